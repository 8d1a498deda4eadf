// Package main provides a simulated decision service for exercising the
// resilience daemon. It serves deterministic model recommendations per
// fingerprint with tunable failure rate and latency, useful for watching
// breakers trip and recover.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var models = []string{"m-small", "m-medium", "m-large", "m-xl"}

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	name := flag.String("name", "decisionsim", "service name")
	failureRate := flag.Float64("failure-rate", 0, "fraction of requests answered with 500 (0..1)")
	latency := flag.Duration("latency", 0, "artificial latency added to every response")
	flag.Parse()

	// /recommendations/{fingerprint} returns a recommendation derived from
	// the fingerprint hash, so repeated requests agree.
	http.HandleFunc("/recommendations/", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}
		if *failureRate > 0 && rand.Float64() < *failureRate {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "simulated upstream failure",
			})
			return
		}

		fingerprint := strings.TrimPrefix(r.URL.Path, "/recommendations/")
		if fingerprint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		h := fnv.New32a()
		h.Write([]byte(fingerprint))
		sum := h.Sum32()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":     *name,
			"fingerprint": fingerprint,
			"model":       models[sum%uint32(len(models))],
			"confidence":  0.5 + float64(sum%50)/100,
			"issued_at":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s (failure-rate=%.2f latency=%s)", *name, addr, *failureRate, *latency)
	log.Fatal(http.ListenAndServe(addr, nil))
}
