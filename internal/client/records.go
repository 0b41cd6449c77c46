package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	dErrors "brewlog/pkg/domain-errors"
)

const maxNoteLength = 250

// Record is one logged drink.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ImageURL  string    `json:"image_url"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UserName  string    `json:"user_name,omitempty"`
}

// NewRecord is a record to post. With an Image it is sent as a multipart
// form, otherwise as JSON.
type NewRecord struct {
	Note      string
	Image     io.Reader
	ImageName string
}

func (r *NewRecord) Validate() error {
	note := strings.TrimSpace(r.Note)
	if note == "" {
		return dErrors.New(dErrors.CodeValidation, "note is required")
	}
	if len([]rune(note)) > maxNoteLength {
		return dErrors.New(dErrors.CodeValidation, "note must be 250 characters or less")
	}
	return nil
}

type createdRecord struct {
	Message string `json:"message"`
	ID      string `json:"beer_id"`
}

type MonthlyCount struct {
	Month       string `json:"month"`
	TotalDrinks int    `json:"total_drinks"`
}

type LeaderboardEntry struct {
	UserName    string         `json:"user_name"`
	MonthlyData []MonthlyCount `json:"monthly_data"`
}

// Total sums the entry across all months.
func (e LeaderboardEntry) Total() int {
	total := 0
	for _, m := range e.MonthlyData {
		total += m.TotalDrinks
	}
	return total
}

// MyRecords lists the signed-in user's records.
func (c *Client) MyRecords(ctx context.Context) ([]Record, error) {
	return CallJSON[[]Record](ctx, c, "/my-beers")
}

// AllRecords lists every user's records with the author's name.
func (c *Client) AllRecords(ctx context.Context) ([]Record, error) {
	return CallJSON[[]Record](ctx, c, "/all-beers")
}

// CreateRecord posts a record and returns its id.
func (c *Client) CreateRecord(ctx context.Context, rec NewRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	note := strings.TrimSpace(rec.Note)

	bodyOpt := WithJSONBody(map[string]string{"note": note})
	if rec.Image != nil {
		contentType, body, err := multipartRecord(note, rec.Image, rec.ImageName)
		if err != nil {
			return "", err
		}
		bodyOpt = WithBody(contentType, body)
	}

	out, err := CallJSON[createdRecord](ctx, c, "/beers", WithMethod(http.MethodPost), bodyOpt)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func multipartRecord(note string, image io.Reader, name string) (string, []byte, error) {
	if name == "" {
		name = "image.jpg"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("note", note); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode note")
	}
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode image")
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeValidation, "failed to read image")
	}
	if err := w.Close(); err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode form")
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

// DeleteRecord removes one of the signed-in user's records.
func (c *Client) DeleteRecord(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	_, err := c.Call(ctx, "/beers/"+url.PathEscape(id), WithMethod(http.MethodDelete))
	return err
}

// Leaderboard returns monthly drink counts per user.
func (c *Client) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	return CallJSON[[]LeaderboardEntry](ctx, c, "/leaderboard")
}
