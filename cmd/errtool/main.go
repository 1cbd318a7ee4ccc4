// Command errtool inspects and clears the stored terminal failures
// that /retry replays. Meant for operators poking at a live database.
package main

import (
	"flag"
	"fmt"
	"os"

	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
)

var (
	action = flag.String("action", "", "Action to perform: list, clear")
	chatID = flag.Int64("chat", 0, "Chat id to operate on")
	dbPath = flag.String("db", "", "Database path (defaults to DATABASE_PATH)")
)

func main() {
	flag.Parse()

	if *action == "" || *chatID == 0 {
		printUsage()
		os.Exit(1)
	}

	path := *dbPath
	if path == "" {
		config, err := utils.LoadConfig()
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = config.DatabasePath
	}

	db, err := storage.NewDatabase(path)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := storage.NewErrorStore(db)

	switch *action {
	case "list":
		listRecords(store)
	case "clear":
		clearRecords(store)
	default:
		fmt.Printf("Unknown action: %s\n", *action)
		printUsage()
		os.Exit(1)
	}
}

func listRecords(store *storage.ErrorStore) {
	records, err := store.ListByChat(*chatID)
	if err != nil {
		fmt.Printf("Error listing records: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Printf("No stored failures for chat %d\n", *chatID)
		return
	}

	fmt.Printf("%-12s %-24s %s\n", "MESSAGE", "CREATED", "URL / REASON")
	for _, r := range records {
		fmt.Printf("%-12d %-24s %s\n", r.MessageID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.URL)
		fmt.Printf("%-12s %-24s %s\n", "", "", r.Reason)
	}
	fmt.Printf("\n%d stored failure(s)\n", len(records))
}

func clearRecords(store *storage.ErrorStore) {
	records, err := store.ListByChat(*chatID)
	if err != nil {
		fmt.Printf("Error listing records: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		if err := store.Delete(r.ChatID, r.MessageID); err != nil {
			fmt.Printf("Error deleting record %d/%d: %v\n", r.ChatID, r.MessageID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Cleared %d stored failure(s) for chat %d\n", len(records), *chatID)
}

func printUsage() {
	fmt.Println("Usage: errtool -action <list|clear> -chat <id> [-db path]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  list   Show the stored terminal failures for a chat")
	fmt.Println("  clear  Delete all stored failures for a chat")
}
