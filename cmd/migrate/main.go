package main

import (
	"flag"
	"log"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/database"
)

func main() {
	seed := flag.Bool("seed", true, "create the admin account, categories and halls")
	demo := flag.Bool("demo", false, "also create demo accounts and events")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Connect to database (migrates the schema)
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if *seed {
		if err := database.SeedData(db, cfg); err != nil {
			log.Fatal("Failed to seed data:", err)
		}
	}
	if *demo {
		if err := database.SeedDemo(db, time.Now()); err != nil {
			log.Fatal("Failed to seed demo data:", err)
		}
	}

	log.Println("Database migration and seeding completed successfully")
}
