package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func main() {
	name := flag.String("name", "", "migration name, lowercase with underscores (e.g. add_session_archive)")
	flag.Parse()

	if !namePattern.MatchString(*name) {
		log.Fatal("migration name must match [a-z0-9_]+")
	}

	stamp := time.Now().UTC().Format("20060102150405")
	dir := filepath.Join("db", "migrations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("create migrations dir: %v", err)
	}

	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s.sql", stamp, *name, direction))
		if _, err := os.Stat(path); err == nil {
			log.Fatalf("refusing to overwrite %s", path)
		} else if !os.IsNotExist(err) {
			log.Fatalf("stat %s: %v", path, err)
		}
		header := fmt.Sprintf("-- %s (%s): changes to the session store schema\n", *name, direction)
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		log.Printf("created %s", path)
	}
}
