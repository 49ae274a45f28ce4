package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/Guizzs26/outbox-relay/internal/models"
)

type StrandedLister interface {
	ListStranded(ctx context.Context, maxRetry, limit int) ([]models.StrandedMessage, error)
}

type Requeuer interface {
	Requeue(ctx context.Context, id string, maxRetry int) error
}

// RunListStranded prints the messages that exhausted their publish attempts
func RunListStranded(ctx context.Context, repo StrandedLister, out io.Writer, maxRetry, limit int, format string) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be a positive number, got: %d", limit)
	}

	stranded, err := repo.ListStranded(ctx, maxRetry, limit)
	if err != nil {
		return fmt.Errorf("failed to list stranded messages: %w", err)
	}

	if format == "json" {
		return outputStrandedJSON(out, stranded)
	}
	return outputStrandedText(out, stranded)
}

func outputStrandedText(out io.Writer, stranded []models.StrandedMessage) error {
	if len(stranded) == 0 {
		_, err := fmt.Fprintln(out, "No stranded messages")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE ID\tEVENT TYPE\tRETRIES\tSTRANDED AT\tREASON")
	for _, s := range stranded {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.MessageID, s.EventType, s.RetryCount, s.StrandedAt.Format(time.RFC3339), s.Reason)
	}
	return w.Flush()
}

func outputStrandedJSON(out io.Writer, stranded []models.StrandedMessage) error {
	type row struct {
		MessageID  string    `json:"message_id"`
		EventType  string    `json:"event_type"`
		RetryCount int       `json:"retry_count"`
		Reason     string    `json:"reason"`
		StrandedAt time.Time `json:"stranded_at"`
	}

	rows := make([]row, 0, len(stranded))
	for _, s := range stranded {
		rows = append(rows, row{
			MessageID:  s.MessageID,
			EventType:  string(s.EventType),
			RetryCount: s.RetryCount,
			Reason:     s.Reason,
			StrandedAt: s.StrandedAt,
		})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// RunRequeue resets the retry counter of a stranded message so the publisher
// picks it up again on its next poll. Messages below maxRetry are refused.
func RunRequeue(ctx context.Context, repo Requeuer, logger *slog.Logger, out io.Writer, id string, maxRetry int) error {
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	if err := repo.Requeue(ctx, id, maxRetry); err != nil {
		return fmt.Errorf("failed to requeue message %s: %w", id, err)
	}

	logger.Info("Stranded message requeued", "message_id", id)
	_, err := fmt.Fprintf(out, "Message %s requeued for publishing\n", id)
	return err
}
