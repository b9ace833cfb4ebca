package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"guidesync/internal/app"
	"guidesync/internal/config"
	"guidesync/internal/encryption"
	"guidesync/internal/guide"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "guidesync",
	Short: "Offline-first trip capture and sync for guide devices",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the document encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		guideID, _ := cmd.Flags().GetString("guide")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new device ID
		deviceID := uuid.New().String()

		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		cfg.GuideID = guideID

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		// The private key goes to the operations team; the passphrase
		// protects it in transit.
		fmt.Print("Key passphrase: ")
		passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption)
		if err := enc.Setup(string(passphrase)); err != nil {
			return fmt.Errorf("generating encryption keys: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		fmt.Printf("Hand %s to operations and delete it from the device.\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", cfg.DeviceID)
		fmt.Printf("Guide ID:  %s\n", cfg.GuideID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Server:    %s\n", cfg.Server.BaseURL)
		return nil
	},
}

// preload command
var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Cache upcoming trips and manifests for offline use",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		from := time.Now().Format("2006-01-02")
		to := time.Now().AddDate(0, 0, days).Format("2006-01-02")

		count, err := a.Service().Preload(context.Background(), from, to)
		if err != nil {
			return fmt.Errorf("preload failed: %w", err)
		}

		fmt.Printf("Cached %d trip(s) for %s through %s\n", count, from, to)
		return nil
	},
}

// checkin / checkout commands
func locationFromFlags(cmd *cobra.Command) guide.Location {
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	acc, _ := cmd.Flags().GetFloat64("accuracy")
	return guide.Location{Latitude: lat, Longitude: lon, Accuracy: acc}
}

var checkinCmd = &cobra.Command{
	Use:   "checkin TRIP_ID",
	Short: "Record a guide check-in for a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().CheckIn(args[0], a.GuideID(), locationFromFlags(cmd))
		if err != nil {
			return fmt.Errorf("check-in failed: %w", err)
		}

		if rec.IsLate {
			fmt.Printf("Checked in LATE at %s (penalty %d)\n", rec.At.Format("15:04:05"), rec.PenaltyAmount)
		} else {
			fmt.Printf("Checked in at %s\n", rec.At.Format("15:04:05"))
		}
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout TRIP_ID",
	Short: "Record a guide check-out for a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().CheckOut(args[0], a.GuideID(), locationFromFlags(cmd))
		if err != nil {
			return fmt.Errorf("check-out failed: %w", err)
		}

		fmt.Printf("Checked out at %s\n", rec.At.Format("15:04:05"))
		return nil
	},
}

// board / return commands
var boardCmd = &cobra.Command{
	Use:   "board TRIP_ID PARTICIPANT_ID",
	Short: "Mark a participant as boarded",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().RecordBoarding(args[0], args[1])
		if err != nil {
			return fmt.Errorf("boarding failed: %w", err)
		}

		fmt.Printf("Boarded %s at %s\n", rec.ParticipantID, rec.At.Format("15:04:05"))
		return nil
	},
}

var returnCmd = &cobra.Command{
	Use:   "return TRIP_ID PARTICIPANT_ID",
	Short: "Mark a participant as returned",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Service().RecordReturn(args[0], args[1])
		if err != nil {
			return fmt.Errorf("return failed: %w", err)
		}

		fmt.Printf("Returned %s at %s\n", rec.ParticipantID, rec.At.Format("15:04:05"))
		return nil
	},
}

// doc command
var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage captured documents",
}

var docAddCmd = &cobra.Command{
	Use:   "add TRIP_ID FILE",
	Short: "Capture a document for upload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contentType, _ := cmd.Flags().GetString("content-type")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		absPath, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		doc, err := a.Service().AddDocument(args[0], absPath, contentType)
		if err != nil {
			return fmt.Errorf("capturing document: %w", err)
		}

		encrypted := ""
		if doc.Encrypted {
			encrypted = "  [encrypted]"
		}
		fmt.Printf("Captured %s (%d bytes, %s)%s\n", doc.Name, doc.Size, doc.Checksum[:12], encrypted)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending mutation queue now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Sync(context.Background(), guide.TriggerManual)
		if err != nil {
			if errors.Is(err, guide.ErrDrainInProgress) {
				fmt.Println("A drain is already running.")
				return nil
			}
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Synced %d, failed %d, skipped %d\n",
			summary.Synced(), summary.Failed(), summary.Skipped())
		return nil
	},
}

// pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show the number of unsynced mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.Service().PendingCount()
		if err != nil {
			return err
		}

		online := "offline"
		if a.Online() {
			online = "online"
		}
		fmt.Printf("%d pending mutation(s), device %s\n", count, online)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent sync cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cycles, err := a.Service().History(limit)
		if err != nil {
			return err
		}

		if len(cycles) == 0 {
			fmt.Println("No sync cycles recorded.")
			return nil
		}

		for _, c := range cycles {
			duration := ""
			if !c.FinishedAt.IsZero() {
				duration = c.FinishedAt.Sub(c.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  synced:%d failed:%d skipped:%d  %s\n",
				c.ID,
				c.Trigger,
				c.StartedAt.Format("2006-01-02 15:04:05"),
				c.Synced,
				c.Failed,
				c.Skipped,
				duration,
			)
		}
		return nil
	},
}

// deadletter command
var deadletterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect mutations parked as undeliverable",
}

var deadletterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		letters, err := a.ListDeadLetters()
		if err != nil {
			return err
		}

		if len(letters) == 0 {
			fmt.Println("No dead letters.")
			return nil
		}

		for _, l := range letters {
			fmt.Printf("#%d  %-22s  enqueued:%s  moved:%s  %s\n",
				l.ID,
				l.Type,
				l.EnqueuedAt.Format("2006-01-02 15:04:05"),
				l.MovedAt.Format("2006-01-02 15:04:05"),
				l.Reason,
			)
		}
		return nil
	},
}

var deadletterRequeueCmd = &cobra.Command{
	Use:   "requeue ID",
	Short: "Move a dead letter back onto the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		newID, err := a.RequeueDeadLetter(id)
		if err != nil {
			return fmt.Errorf("requeueing: %w", err)
		}

		fmt.Printf("Requeued #%d as mutation #%d\n", id, newID)
		return nil
	},
}

// prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove synced mutations past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Prune()
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}

		fmt.Printf("Removed %d mutation(s)\n", removed)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run in the foreground, syncing whenever the device comes online",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Watching for connectivity; Ctrl-C to stop.")
		return a.Watch(context.Background())
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("guide", "", "Guide identity for attendance events")
	configCmd.AddCommand(configListCmd)

	// doc subcommands
	docCmd.AddCommand(docAddCmd)
	docAddCmd.Flags().String("content-type", "application/octet-stream", "MIME type of the captured file")

	// deadletter subcommands
	deadletterCmd.AddCommand(deadletterListCmd)
	deadletterCmd.AddCommand(deadletterRequeueCmd)

	// location flags shared by attendance commands
	for _, c := range []*cobra.Command{checkinCmd, checkoutCmd} {
		c.Flags().Float64("lat", 0, "Device latitude")
		c.Flags().Float64("lon", 0, "Device longitude")
		c.Flags().Float64("accuracy", 0, "GPS accuracy in meters")
	}

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(preloadCmd)
	preloadCmd.Flags().IntP("days", "d", 14, "How many days ahead to cache")
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(returnCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of cycles to show")
	rootCmd.AddCommand(deadletterCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(watchCmd)
}
