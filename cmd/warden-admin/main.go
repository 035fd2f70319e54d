// warden-admin manages the daemon's account and server inventory. It operates
// directly on the database file, so run it on the host while the daemon is
// stopped or before first start.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"gorm.io/gorm"

	"github.com/wardenhost/warden/internal/auth"
	"github.com/wardenhost/warden/internal/core"
	"github.com/wardenhost/warden/internal/core/data"
)

const usage = `usage: warden-admin [-config dir] <command>

commands:
  account add <username>            register an account (password read from stdin)
  account delete <username>         delete an account
  account list                      list registered accounts
  server add <username> <name> <path>  register a managed server for an account
  server list <username>            list an account's servers
  server mods <username> <name>     list the mods installed on a server
`

var configPath = flag.String("config", ".", "Path to the directory containing the config file")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fatalf("failed to load config: %s", err)
	}

	db, err := data.Initialize(config.Database.Filename, false)
	if err != nil {
		fatalf("failed to open database: %s", err)
	}
	defer data.Shutdown(db)

	switch args[0] + " " + args[1] {
	case "account add":
		addAccount(db, args[2:])
	case "account delete":
		deleteAccount(db, args[2:])
	case "account list":
		listAccounts(db)
	case "server add":
		addServer(db, args[2:])
	case "server list":
		listServers(db, args[2:])
	case "server mods":
		listServerMods(db, args[2:])
	default:
		fmt.Print(usage)
		os.Exit(1)
	}
}

func addAccount(db *gorm.DB, args []string) {
	if len(args) != 1 {
		fatalf("usage: warden-admin account add <username>")
	}
	username := args[0]

	fmt.Print("password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fatalf("failed to read password: %s", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		fatalf("password must not be empty")
	}

	if _, err := auth.CreateAccount(db, username, password); err != nil {
		fatalf("failed to create account: %s", err)
	}
	fmt.Printf("created account %s\n", username)
}

func deleteAccount(db *gorm.DB, args []string) {
	if len(args) != 1 {
		fatalf("usage: warden-admin account delete <username>")
	}

	account := findAccount(db, args[0])
	if err := data.DeleteAccount(db, account); err != nil {
		fatalf("failed to delete account: %s", err)
	}
	fmt.Printf("deleted account %s\n", account.Username)
}

func listAccounts(db *gorm.DB) {
	accounts, err := data.FindAccounts(db)
	if err != nil {
		fatalf("failed to list accounts: %s", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tREGISTERED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\n", a.ID, a.Username, a.RegistrationDate.Format("2006-01-02"))
	}
	w.Flush()
}

func addServer(db *gorm.DB, args []string) {
	if len(args) != 3 {
		fatalf("usage: warden-admin server add <username> <name> <path>")
	}

	account := findAccount(db, args[0])
	info, err := os.Stat(args[2])
	if err != nil || !info.IsDir() {
		fatalf("server path %s is not a directory", args[2])
	}

	record := &data.ServerRecord{AccountID: account.ID, Name: args[1], Path: args[2]}
	if err := data.CreateServer(db, record); err != nil {
		fatalf("failed to create server record: %s", err)
	}
	fmt.Printf("registered server %s for %s\n", record.Name, account.Username)
}

func listServers(db *gorm.DB, args []string) {
	if len(args) != 1 {
		fatalf("usage: warden-admin server list <username>")
	}

	account := findAccount(db, args[0])
	servers, err := data.FindServers(db, account.ID)
	if err != nil {
		fatalf("failed to list servers: %s", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tRUNNING")
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\t%v\n", s.Name, s.Path, s.Running)
	}
	w.Flush()
}

func listServerMods(db *gorm.DB, args []string) {
	if len(args) != 2 {
		fatalf("usage: warden-admin server mods <username> <name>")
	}

	account := findAccount(db, args[0])
	records, err := data.FindModRecords(db, account.ID, args[1])
	if err != nil {
		fatalf("failed to list mods: %s", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MOD ID\tFILENAME\tINSTALLED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ModID, r.Filename, r.InstalledAt.Format("2006-01-02"))
	}
	w.Flush()
}

func findAccount(db *gorm.DB, username string) *data.Account {
	account, err := data.FindAccountByUsername(db, username)
	if err != nil {
		fatalf("failed to look up account: %s", err)
	}
	if account == nil {
		fatalf("no account named %s", username)
	}
	return account
}

func fatalf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
