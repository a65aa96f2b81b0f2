package main

import (
	"flag"
	"fmt"
	"os"

	"wadispatch/internal/database"

	"github.com/sirupsen/logrus"
)

var dbPath = flag.String("db", "", "Path to the SQLite database file")

// migrate applies the schema to a database file, for provisioning a fresh
// deployment without starting the full service.
func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	path := *dbPath
	if path == "" {
		path = os.Getenv("DB_PATH")
	}
	if path == "" {
		logger.Fatal("Database path is required (-db flag or DB_PATH)")
	}

	db, err := database.New(path)
	if err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
	defer db.Close()

	fmt.Printf("Schema applied to %s\n", path)
}
