package main

import (
	"flag"
	"fmt"
	"os"

	"roomsync/pkg/cache"
	"roomsync/pkg/logger"
)

// inspect dumps the contents of one room cache for debugging: every cached
// message in window order plus the member table.
func main() {
	var root, room string
	var limit int
	flag.StringVar(&root, "cache", "./cache", "cache root directory")
	flag.StringVar(&room, "room", "", "room id to inspect")
	flag.IntVar(&limit, "limit", 0, "max messages to print (0 = all)")
	flag.Parse()
	if room == "" {
		fmt.Fprintln(os.Stderr, "-room required")
		os.Exit(2)
	}
	logger.Init()

	c, err := cache.Open(root, room)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open cache: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	entries, err := c.QueryLatest(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query messages: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("room %s: %d cached messages\n", room, len(entries))
	for _, e := range entries {
		marker := " "
		if e.LastInWindow {
			marker = "*"
		}
		fmt.Printf("%s %s  ts=%d  author=%s  kind=%s  next=%s  %q\n",
			marker, e.ID, e.CreatedTS, e.Author, e.Kind, e.NextAuthor, e.Body)
	}

	mem, err := c.Members()
	if err != nil {
		fmt.Fprintf(os.Stderr, "query members: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d cached members\n", len(mem))
	for _, m := range mem {
		fmt.Printf("  %s  %s  %s\n", m.ID, m.Name, m.PhotoURL)
	}
}
