package main

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Servidor "burrão": responde o endpoint de última modificação, mas falha ou
// demora de propósito. Serve para ver o syncwatch engolir as falhas de polling
// sem perder o último estado.
func main() {
	failRate := envFloat("FAIL_RATE", 0.3)
	maxDelay := envDuration("MAX_DELAY", 2*time.Second)
	started := time.Now()

	r := chi.NewRouter()
	r.Get("/api/resources/{id}/last-modified", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")

		//nolint:gosec // aleatoriedade de teste
		if rand.Float64() < failRate {
			fmt.Printf("Log: falha simulada para %s\n", id)
			http.Error(w, "falha simulada", http.StatusInternalServerError)
			return
		}
		if maxDelay > 0 {
			//nolint:gosec // aleatoriedade de teste
			time.Sleep(time.Duration(rand.Int64N(int64(maxDelay))))
		}

		// muda a cada minuto, sempre "alterado" pela mesma pessoa
		lastModified := started.Add(time.Since(started).Truncate(time.Minute))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"last_modified": %d, "modified_by": "Burrão"}`, lastModified.UnixMilli())
		fmt.Printf("Log: %s respondido\n", id)
	})

	fmt.Println("Servidor rodando em http://localhost:8082")
	if err := http.ListenAndServe(":8082", r); err != nil { //nolint:gosec // servidor de validação local
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}

func envFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
