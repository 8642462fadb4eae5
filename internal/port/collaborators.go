package port

import "context"

// TextCleaner is the external transcript cleanup service. It normalizes
// spelled-out numbers to digits and standardizes product spelling.
type TextCleaner interface {
	Clean(ctx context.Context, text, language string) (string, error)
}
