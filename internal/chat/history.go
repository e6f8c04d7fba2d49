package chat

import (
	"context"
	"fmt"
	"iter"

	"github.com/ashureev/gymchat/internal/apiclient"
	"github.com/ashureev/gymchat/internal/domain"
)

// Pages yields chat history one page at a time, following continuation
// tokens until the backend returns none. Requests are strictly sequential.
func Pages(ctx context.Context, client *apiclient.Client, url string, session domain.SessionSummary, limit int) iter.Seq2[[]domain.ChatMessage, error] {
	return func(yield func([]domain.ChatMessage, error) bool) {
		continuation := ""
		for {
			resp, err := apiclient.Post[domain.MessagesResponse](ctx, client, url, domain.MessagesRequest{
				SessionSummary: session,
				Limit:          limit,
				Continuation:   continuation,
			})
			if err != nil {
				yield(nil, fmt.Errorf("fetch history page: %w", err))
				return
			}
			if !yield(resp.Data.Records, nil) {
				return
			}
			if resp.Data.Continuation == "" {
				return
			}
			continuation = resp.Data.Continuation
		}
	}
}

// ProcessChatHistory fetches the whole history, calling onPage (optional)
// with each page's records. Errors are returned to the caller.
func ProcessChatHistory(ctx context.Context, client *apiclient.Client, url string, session domain.SessionSummary, limit int, onPage func([]domain.ChatMessage)) ([]domain.ChatMessage, error) {
	var all []domain.ChatMessage
	for page, err := range Pages(ctx, client, url, session, limit) {
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if onPage != nil {
			onPage(page)
		}
	}
	return all, nil
}
