package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"mafia-night/internal/config"
	"mafia-night/internal/db"
	"mafia-night/internal/server"
	"mafia-night/internal/store"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store setup failed: %v", err)
	}

	addr := ":8080"
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}

	srv := server.New(st, cfg)
	go srv.Run()
	defer srv.Close()

	log.Printf("mafia-night server listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}

// openStore picks the session store: Postgres when DATABASE_URL is set, an
// in-memory store otherwise. The in-memory store loses everything on restart
// and is meant for local play and development.
func openStore(cfg config.Config) (store.Store, error) {
	if os.Getenv("DATABASE_URL") == "" {
		log.Println("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	conn, err := db.Open()
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second)
	return store.NewPostgres(conn), nil
}
