// Command client is the share-link companion to the pawtag server: it
// does locally what the public web page does in a browser. Point it at a
// share URL (the one behind the QR tag) and it classifies the path,
// establishes a durable visitor identity, and drives the like tracker
// against the server's record API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pawtag/internal/engagement"
	"pawtag/internal/routeview"
	"pawtag/internal/visitor"
)

func main() {
	cmd := flag.String("cmd", "show", "Command: show|like|unlike|toggle|watch")
	shareURL := flag.String("url", "", "Share URL, e.g. https://pawtag.example/pet/<id>")
	serverFlag := flag.String("server", "", "Override server base URL (defaults to the share URL origin)")
	prefix := flag.String("prefix", "", "Deployment path prefix of the share URL, e.g. /app")
	identityFile := flag.String("identity", "", "Override the visitor identity file location")
	timeout := flag.Duration("timeout", engagement.DefaultToggleTimeout, "Bound on a single like/unlike call")
	flag.Parse()

	if err := run(*cmd, *shareURL, *serverFlag, *prefix, *identityFile, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd, shareURL, serverOverride, prefix, identityFile string, timeout time.Duration) error {
	if shareURL == "" {
		return fmt.Errorf("-url is required")
	}

	u, err := url.Parse(shareURL)
	if err != nil {
		return fmt.Errorf("invalid share URL: %w", err)
	}

	route := routeview.NewClassifier(prefix).Classify(u.Path)
	if !route.Matched {
		return fmt.Errorf("not a pet share link: %s", shareURL)
	}
	entityID, err := uuid.Parse(route.EntityID)
	if err != nil {
		return fmt.Errorf("invalid pet id in share link: %w", err)
	}

	baseURL := serverOverride
	if baseURL == "" {
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("share URL carries no origin; pass -server")
		}
		baseURL = u.Scheme + "://" + u.Host + strings.TrimSuffix(prefix, "/")
	}

	identity := setupIdentity(identityFile)

	// The subscription carries whatever identity already exists; reads
	// never mint one.
	token, _, _ := identity.Get()
	store := engagement.NewHTTPStore(baseURL, token, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := engagement.NewTracker(entityID, engagement.TrackerConfig{
		Store:         store,
		Identity:      identity,
		ToggleTimeout: timeout,
	})

	if err := tracker.Load(ctx); err != nil {
		// Degraded view, same as the web page: show what we have.
		fmt.Fprintln(os.Stderr, "Warning: could not load likes:", err)
	}

	switch cmd {
	case "show":
		// Nothing beyond the load.
	case "like":
		if err := tracker.Like(ctx); err != nil {
			return err
		}
	case "unlike":
		if err := tracker.Unlike(ctx); err != nil {
			return err
		}
	case "toggle":
		if err := tracker.Toggle(ctx); err != nil {
			return err
		}
	case "watch":
		printState(entityID, tracker)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return tracker.Sync(gctx, func(count int64) {
				fmt.Printf("likes: %d\n", count)
			})
		})
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (want show|like|unlike|toggle|watch)", cmd)
	}

	printState(entityID, tracker)
	return nil
}

// setupIdentity prefers the durable file-backed identity and degrades to
// a per-session one when local storage is unusable.
func setupIdentity(override string) visitor.Provider {
	path := override
	if path == "" {
		p, err := visitor.DefaultPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Warning: no durable identity storage, using session identity:", err)
			return visitor.NewMemProvider(nil, "")
		}
		path = p
	}

	fp := visitor.NewFileProvider(path, nil)
	if _, _, err := fp.Get(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: identity storage unreadable, using session identity:", err)
		return visitor.NewMemProvider(nil, "")
	}
	return fp
}

func printState(entityID uuid.UUID, tracker *engagement.Tracker) {
	mark := " "
	if tracker.Liked() {
		mark = "♥"
	}
	fmt.Printf("pet %s  [%s] %d likes\n", entityID, mark, tracker.Count())
}
