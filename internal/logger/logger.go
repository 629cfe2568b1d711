package logger

import (
	"log"

	"go.uber.org/zap"
)

// Log is the shared application logger
var Log *zap.Logger

// InitLogger initializes the global zap logger
func InitLogger() {
	var err error
	Log, err = zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
