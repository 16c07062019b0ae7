package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spectile/fieldsync/internal/auth"
	"github.com/spectile/fieldsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagKind     string
	flagSubject  string
	flagContact  string
	flagEmail    string
	flagPhone    string
	flagNotes    string
	flagAt       string
	flagLat      float64
	flagLng      float64
	flagAccuracy float64

	flagPendingOnly bool
	flagClearToken  bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new field activity",
	Long: `Record a new activity. The record is written to the local store
immediately and is never blocked on network conditions. If the
service is reachable it is pushed right away; otherwise it stays
pending until the next sync.`,
	RunE: runRecord,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally held activities",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <client-id>",
	Short: "Delete an activity",
	Long: `Delete an activity from the local store. If the server had
accepted the record, the remote copy is deleted on the next sync.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var searchCmd = &cobra.Command{
	Use:   "search <business-name>",
	Short: "Search activities by business name",
	Long: `Search the service for activities matching a business name.
When the service is unreachable, the local collection is searched
instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Long: `Push pending local records, flush queued deletes, and pull the
authoritative recent set from the service.`,
	RunE: runSync,
}

var authCmd = &cobra.Command{
	Use:   "auth [token]",
	Short: "Store or clear the API token",
	Long: `Store the bearer token used for service requests. With no
argument the token is read from stdin. The FIELDSYNC_TOKEN
environment variable overrides the stored token.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuth,
}

func init() {
	recordCmd.Flags().StringVar(&flagKind, "kind", "", "activity kind: "+strings.Join(store.Kinds, ", "))
	recordCmd.Flags().StringVar(&flagSubject, "subject", "", "business name (required)")
	recordCmd.Flags().StringVar(&flagContact, "contact", "", "contact person (required)")
	recordCmd.Flags().StringVar(&flagEmail, "email", "", "contact email")
	recordCmd.Flags().StringVar(&flagPhone, "phone", "", "contact phone")
	recordCmd.Flags().StringVar(&flagNotes, "notes", "", "free-form notes")
	recordCmd.Flags().StringVar(&flagAt, "at", "", "business time (RFC3339, default now)")
	recordCmd.Flags().Float64Var(&flagLat, "lat", 0, "capture latitude")
	recordCmd.Flags().Float64Var(&flagLng, "lng", 0, "capture longitude")
	recordCmd.Flags().Float64Var(&flagAccuracy, "accuracy", 0, "capture accuracy in meters")
	recordCmd.MarkFlagRequired("kind")
	recordCmd.MarkFlagRequired("subject")
	recordCmd.MarkFlagRequired("contact")

	listCmd.Flags().BoolVar(&flagPendingOnly, "pending", false, "show only records awaiting sync")

	authCmd.Flags().BoolVar(&flagClearToken, "clear", false, "remove the stored token")
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	draft := store.Draft{
		Kind:        flagKind,
		SubjectName: flagSubject,
		ContactName: flagContact,
		Email:       flagEmail,
		Phone:       flagPhone,
		Notes:       flagNotes,
	}

	if flagAt != "" {
		at, err := time.Parse(time.RFC3339, flagAt)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: %w", flagAt, err)
		}
		draft.OccurredAt = at
	}

	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
		loc := store.Location{
			Latitude:   flagLat,
			Longitude:  flagLng,
			CapturedAt: time.Now().UTC(),
		}
		if cmd.Flags().Changed("accuracy") {
			acc := flagAccuracy
			loc.Accuracy = &acc
		}
		draft.Location = &loc
	}

	act, err := a.store.Create(draft)
	if err != nil {
		return err
	}
	fmt.Printf("recorded %s %q (%s)\n", act.Kind, act.SubjectName, act.ClientID)

	// Opportunistic push; the record stays pending if it fails.
	res, err := a.engine.Push()
	if err != nil {
		fmt.Println("service unreachable, activity will sync later")
		return nil
	}
	if res.Synced > 0 {
		fmt.Printf("synced %d record(s)\n", res.Synced)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	acts, err := a.store.List()
	if err != nil {
		return err
	}

	shown := 0
	for _, act := range acts {
		if flagPendingOnly && act.SyncState != store.StatePending {
			continue
		}
		printActivity(act)
		shown++
	}
	if shown == 0 {
		fmt.Println("no activities")
	}
	return nil
}

func printActivity(act store.Activity) {
	marker := "synced "
	if act.SyncState == store.StatePending {
		marker = "pending"
	}
	fmt.Printf("%s  [%s]  %-12s  %s / %s  (%s)\n",
		act.ClientID, marker, act.Kind, act.SubjectName, act.ContactName,
		humanize.Time(act.OccurredAt))
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	clientID := args[0]
	if err := a.store.Remove(clientID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", clientID)

	// Best-effort remote delete; stays queued if the service is down.
	if _, err := a.engine.Reconcile(); err != nil {
		fmt.Println("remote delete deferred until next sync")
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	page, err := a.client.Search(name, 0, a.cfg.PageSize)
	if err == nil {
		if len(page.Content) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, dto := range page.Content {
			id := ""
			if dto.ID != nil {
				id = fmt.Sprintf("#%d", *dto.ID)
			}
			fmt.Printf("%s  [synced ]  %-12s  %s / %s  %s\n",
				dto.ClientID, dto.Kind, dto.SubjectName, dto.ContactName, id)
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "service unreachable, searching local records\n")
	acts, err := a.store.List()
	if err != nil {
		return err
	}
	matched := 0
	for _, act := range acts {
		if strings.Contains(strings.ToLower(act.SubjectName), strings.ToLower(name)) {
			printActivity(act)
			matched++
		}
	}
	if matched == 0 {
		fmt.Println("no matches")
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.Reconcile()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Printf("sync complete: %d synced, %d failed\n", res.Synced, res.Failed)
	return nil
}

func runAuth(cmd *cobra.Command, args []string) error {
	tokenPath, err := auth.DefaultTokenPath()
	if err != nil {
		return err
	}
	tokens := auth.NewFileTokenSource(tokenPath)

	if flagClearToken {
		if err := tokens.Clear(); err != nil {
			return err
		}
		fmt.Println("token cleared")
		return nil
	}

	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		fmt.Print("Paste API token: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}

	if err := tokens.Save(token); err != nil {
		return err
	}
	fmt.Println("token saved")
	return nil
}
