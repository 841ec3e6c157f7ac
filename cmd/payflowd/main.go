package main

import (
	"log"
	"os"

	"github.com/agentwallet/payflow"
	api "github.com/agentwallet/payflow/http"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	server := api.NewServer(
		payflow.NewSessionRunner(),
		payflow.NewBatchRunner(),
		payflow.NewScheduler(),
	)

	log.Printf("payflowd listening on :%s", port)
	if err := server.Router().Run(":" + port); err != nil {
		log.Fatalf("payflowd: %v", err)
	}
}
