package main

import (
	"log"
	"os"

	"loadtrace-backend/internal/database"

	"github.com/joho/godotenv"
)

// Standalone migration runner. The server runs migrations on boot; this exists
// for applying the schema and optional one-off SQL files without starting it.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Extra SQL files can be passed as arguments, applied in order
	for _, path := range os.Args[1:] {
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}
		log.Printf("Executing %s", path)
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			log.Fatalf("%s failed: %v", path, err)
		}
	}

	log.Println("Migration completed successfully!")
}
