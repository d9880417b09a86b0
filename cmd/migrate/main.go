package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"peoplecounter/internal/repository/sqlite"
)

// Applies the images schema to a database file. The migration is idempotent:
// it adds the fingerprint column and unique index to databases created before
// deduplication existed, and is a no-op on current ones.
func main() {
	dbPath := flag.String("db", "data/images.db", "Database path")
	flag.Parse()

	fmt.Printf("Migrating database %s\n", *dbPath)

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	defer db.Close()

	var images int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM images`).Scan(&images); err != nil {
		log.Fatalf("Failed to read image count: %v", err)
	}

	fmt.Printf("✅ Schema up to date (%d stored images)\n", images)
}
