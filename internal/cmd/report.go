package cmd

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/mrsync/internal/mixedreality/monitor"
	"github.com/banshee-data/mrsync/internal/mixedreality/storage/sqlite"
	"github.com/banshee-data/mrsync/internal/security"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise a recorded session",
	Long: `Print the event counts and final plane states of a recorded session.

With --out, also write a top-down plane map (PNG) and an event count
chart (HTML) into that directory. The latest session is used unless
--session names one; --list prints every recorded session instead.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var (
	reportDB      string
	reportSession string
	reportOut     string
	reportList    bool
)

func init() {
	reportCmd.Flags().StringVar(&reportDB, "db", "", "recording SQLite file")
	reportCmd.Flags().StringVar(&reportSession, "session", "", "session id (default: latest)")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "directory for the plane map and event chart")
	reportCmd.Flags().BoolVar(&reportList, "list", false, "list recorded sessions")
	_ = reportCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(reportDB); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	store, err := sqlite.Open(reportDB)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer store.Close()

	w := cmd.OutOrStdout()
	if reportList {
		return listSessions(w, store)
	}

	info, err := pickSession(store, reportSession)
	if err != nil {
		return err
	}
	counts, err := store.EventCounts(info.SessionID)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	planes, err := store.Planes(info.SessionID)
	if err != nil {
		return fmt.Errorf("load planes: %w", err)
	}
	anchors, err := store.Anchors(info.SessionID)
	if err != nil {
		return fmt.Errorf("load anchors: %w", err)
	}

	printReport(w, info, counts, planes, anchors)

	if reportOut == "" {
		return nil
	}
	if err := security.ValidateOutputPath(reportOut); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if err := os.MkdirAll(reportOut, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	base := security.SanitizeFilename(info.SessionID)

	var png bytes.Buffer
	pm, am := monitor.MarkersFromRecording(planes, anchors, info.ARToVRScale)
	if err := monitor.RenderPlaneMap(&png, "Session "+info.SessionID, pm, am); err != nil {
		return fmt.Errorf("render plane map: %w", err)
	}
	mapPath := filepath.Join(reportOut, "planes-"+base+".png")
	if err := os.WriteFile(mapPath, png.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write plane map: %w", err)
	}
	fmt.Fprintf(w, "Wrote %s\n", mapPath)

	if len(counts) == 0 {
		return nil
	}
	var page bytes.Buffer
	if err := monitor.RenderEventChart(&page, info.SessionID, counts); err != nil {
		return fmt.Errorf("render event chart: %w", err)
	}
	chartPath := filepath.Join(reportOut, "events-"+base+".html")
	if err := os.WriteFile(chartPath, page.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write event chart: %w", err)
	}
	fmt.Fprintf(w, "Wrote %s\n", chartPath)
	return nil
}

func pickSession(store *sqlite.Store, id string) (sqlite.SessionInfo, error) {
	if id == "" {
		info, err := store.LatestSession()
		if errors.Is(err, sql.ErrNoRows) {
			return info, errors.New("no recorded sessions")
		}
		return info, err
	}
	sessions, err := store.Sessions()
	if err != nil {
		return sqlite.SessionInfo{}, err
	}
	for _, s := range sessions {
		if s.SessionID == id {
			return s, nil
		}
	}
	return sqlite.SessionInfo{}, fmt.Errorf("session %q not found", id)
}

func listSessions(w io.Writer, store *sqlite.Store) error {
	sessions, err := store.Sessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No recorded sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %-6s scale=%g\n", s.SessionID, s.StartedAt.Format(time.RFC3339), s.Platform, s.ARToVRScale)
	}
	return nil
}

func printReport(w io.Writer, info sqlite.SessionInfo, counts map[string]int, planes []sqlite.PlaneRow, anchors []sqlite.AnchorRow) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SESSION REPORT")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	fmt.Fprintf(w, "Session:  %s\n", info.SessionID)
	fmt.Fprintf(w, "Started:  %s\n", info.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Platform: %s (scale %g)\n", info.Platform, info.ARToVRScale)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "EVENTS")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "%-28s %d\n", k, counts[k])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "PLANES")
	fmt.Fprintln(w, strings.Repeat("─", 50))
	for _, p := range planes {
		merged := ""
		if p.ParentID != "" {
			merged = " -> " + p.ParentID
		}
		fmt.Fprintf(w, "%-14s %-26s %-10s%s\n", p.Handle, p.Type, p.State, merged)
	}
	fmt.Fprintf(w, "\nAnchors: %d\n", len(anchors))
}
