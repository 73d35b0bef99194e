// Command main runs the database seeder for Framez.
package main

import (
	"context"
	"flag"
	"log"

	"framez/internal/config"
	"framez/internal/database"
	"framez/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()

	// Parse command line flags
	numUsers := flag.Int("users", defaults.NumUsers, "Number of users to create")
	numPosts := flag.Int("posts", defaults.NumPosts, "Number of posts to create")
	shouldClean := flag.Bool("clean", defaults.ShouldClean, "Clean database before seeding")
	maxDays := flag.Int("days", defaults.MaxDays, "Spread post timestamps over this many days")
	fast := flag.Bool("fast", false, "Skip bcrypt and store the plain default password (dev only)")
	dryRun := flag.Bool("dry-run", false, "Log what would be created without writing")
	fixtures := flag.String("fixtures", "", "Load a YAML fixture file instead of generating data")
	demo := flag.Bool("demo", false, "Load the bundled demo accounts")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	opts := seed.Options{
		NumUsers:    *numUsers,
		NumPosts:    *numPosts,
		ShouldClean: *shouldClean,
		MaxDays:     *maxDays,
		MaxComments: defaults.MaxComments,
		MaxLikes:    defaults.MaxLikes,
		BatchSize:   defaults.BatchSize,
		SkipBcrypt:  *fast,
		DryRun:      *dryRun,
	}

	switch {
	case *demo:
		if err := seed.Demo(ctx, db); err != nil {
			log.Fatalf("❌ Demo seeding failed: %v", err)
		}
	case *fixtures != "":
		fx, err := seed.LoadFixtures(*fixtures)
		if err != nil {
			log.Fatalf("❌ Could not read fixtures: %v", err)
		}
		sum, err := seed.ApplyFixtures(ctx, db, fx, opts)
		if err != nil {
			log.Fatalf("❌ Fixture seeding failed: %v", err)
		}
		log.Printf("✓ %d users, %d posts, %d likes, %d comments", sum.Users, sum.Posts, sum.Likes, sum.Comments)
	default:
		log.Printf("Target: %d users, %d posts, clean=%v\n", *numUsers, *numPosts, *shouldClean)
		if err := seed.Seed(ctx, db, opts); err != nil {
			log.Fatalf("❌ Seeding failed: %v", err)
		}
	}

	log.Println("✨ All done! Your database is now populated with test data.")
	log.Printf("📧 All generated users have the password: %s", seed.DefaultPassword)
}
