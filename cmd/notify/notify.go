// Package notify implements the ansd notify command, which publishes a burst
// of notifications through an in-process service and reports what the
// admission gate let through.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/notification"
)

// drainTimeout bounds the wait for the subscriber to see every admitted
// notification.
const drainTimeout = 5 * time.Second

// Options configures a burst.
type Options struct {
	Bundle   string
	UID      int32
	Count    int
	Interval time.Duration
	Title    string
	Text     string
}

// Summary is the outcome of a burst.
type Summary struct {
	Published int
	Admitted  int
	Dropped   int
	Rejected  int
	Consumed  []int32
}

// Command returns the notify command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := Options{}

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Publish a burst of notifications through an in-process service",
		Long: `Publish a burst of notifications through an in-process service and print
each notification a subscriber consumed, followed by the admitted and dropped totals.

Examples:
  # 20 requests at once against the configured quota
  ansd notify --bundle com.example.chat --count 20

  # Spread the burst out
  ansd notify --count 30 --interval 50ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := Run(cmd.Context(), settings, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), settings, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Bundle, "bundle", "com.example.cli", "Bundle to publish as")
	cmd.Flags().Int32Var(&opts.UID, "uid", 0, "Caller uid")
	cmd.Flags().IntVar(&opts.Count, "count", 20, "Number of notifications to publish")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "Delay between publishes")
	cmd.Flags().StringVar(&opts.Title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&opts.Text, "text", "Burst message", "Notification text")

	return cmd
}

// Run publishes opts.Count notifications and waits until a subscriber has
// consumed every admitted one. Each consumed id is written to out.
func Run(ctx context.Context, settings *conf.Settings, opts Options, out io.Writer) (Summary, error) {
	if opts.Count <= 0 {
		return Summary{}, fmt.Errorf("count must be positive, got %d", opts.Count)
	}

	svc, err := notification.NewService(notification.ConfigFromSettings(&settings.Notification, settings.Debug))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create notification service: %w", err)
	}
	defer svc.Stop()

	var (
		mu       sync.Mutex
		consumed []int32
		changed  = make(chan struct{}, 1)
	)
	sub := &notification.SubscriberFuncs{
		Consume: func(n *notification.Notification) {
			mu.Lock()
			consumed = append(consumed, n.Request.ID)
			mu.Unlock()
			fmt.Fprintf(out, "consumed id=%d hash=%s\n", n.Request.ID, n.Request.HashCode)
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	}
	if err := svc.Subscribe(ctx, sub, &notification.SubscribeInfo{BundleNames: []string{opts.Bundle}}); err != nil {
		return Summary{}, fmt.Errorf("failed to subscribe: %w", err)
	}

	caller := notification.BundleOption{Bundle: opts.Bundle, UID: opts.UID}
	summary := Summary{}
	for i := range opts.Count {
		if i > 0 && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(opts.Interval):
			}
		}

		result, err := svc.PublishWithResult(ctx, caller, &notification.Request{
			ID: int32(i + 1),
			Content: notification.Content{
				Type:   notification.ContentBasicText,
				Normal: &notification.BasicContent{Title: opts.Title, Text: opts.Text},
			},
		})
		summary.Published++
		switch {
		case notification.CodeOf(err) == notification.CodeOverMaxActivePerSecond:
			summary.Rejected++
		case err != nil:
			return summary, fmt.Errorf("publish %d: %w", i+1, err)
		case result.Admitted:
			summary.Admitted++
		default:
			summary.Dropped++
		}
	}

	deadline := time.After(drainTimeout)
	for {
		mu.Lock()
		n := len(consumed)
		mu.Unlock()
		if n >= summary.Admitted {
			break
		}
		select {
		case <-changed:
		case <-deadline:
			return summary, fmt.Errorf("timed out waiting for delivery: %d of %d consumed", n, summary.Admitted)
		case <-ctx.Done():
			return summary, ctx.Err()
		}
	}

	mu.Lock()
	summary.Consumed = append([]int32(nil), consumed...)
	mu.Unlock()
	return summary, nil
}

func printSummary(out io.Writer, settings *conf.Settings, s Summary) {
	title := cases.Title(language.English)
	adm := settings.Notification.Admission
	fmt.Fprintf(out, "\n%s window, %s policy: %d per %s\n",
		title.String(adm.Mode), title.String(adm.Policy), adm.Quota, adm.Window)
	fmt.Fprintf(out, "published=%d admitted=%d dropped=%d rejected=%d\n",
		s.Published, s.Admitted, s.Dropped, s.Rejected)
}
