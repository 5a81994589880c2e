package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated 表示缺少或失效的 Microsoft 授权。
var ErrNotAuthenticated = errors.New("onenote: not authenticated")

// APIError is a non-auth failure returned by Microsoft Graph.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("graph api %d: %s", e.Status, e.Message)
}

type Notebook struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Section struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Links struct {
		OneNoteWebURL struct {
			Href string `json:"href"`
		} `json:"oneNoteWebUrl"`
	} `json:"links"`
}

// WebURL returns the browser link of the page, if Graph reported one.
func (p Page) WebURL() string {
	return p.Links.OneNoteWebURL.Href
}

// HTTPClientSource hands out an authorized HTTP client per call.
type HTTPClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// OneNote talks to the OneNote part of Microsoft Graph.
type OneNote struct {
	baseURL string
	clients HTTPClientSource
}

func NewOneNote(baseURL string, clients HTTPClientSource) *OneNote {
	return &OneNote{baseURL: strings.TrimRight(baseURL, "/"), clients: clients}
}

type listResponse[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (o *OneNote) ListNotebooks(ctx context.Context) ([]Notebook, error) {
	return listAll[Notebook](ctx, o, o.baseURL+"/me/onenote/notebooks")
}

func (o *OneNote) CreateNotebook(ctx context.Context, name string) (Notebook, error) {
	var nb Notebook
	err := o.postJSON(ctx, o.baseURL+"/me/onenote/notebooks", map[string]string{"displayName": name}, &nb)
	return nb, err
}

func (o *OneNote) ListSections(ctx context.Context, notebookID string) ([]Section, error) {
	return listAll[Section](ctx, o, o.baseURL+"/me/onenote/notebooks/"+url.PathEscape(notebookID)+"/sections")
}

func (o *OneNote) CreateSection(ctx context.Context, notebookID, name string) (Section, error) {
	var section Section
	endpoint := o.baseURL + "/me/onenote/notebooks/" + url.PathEscape(notebookID) + "/sections"
	err := o.postJSON(ctx, endpoint, map[string]string{"displayName": name}, &section)
	return section, err
}

// CreatePage uploads an HTML page as the multipart "Presentation" part.
func (o *OneNote) CreatePage(ctx context.Context, sectionID, document string) (Page, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="Presentation"`)
	header.Set("Content-Type", "text/html")
	part, err := writer.CreatePart(header)
	if err != nil {
		return Page{}, err
	}
	if _, err := io.WriteString(part, document); err != nil {
		return Page{}, err
	}
	if err := writer.Close(); err != nil {
		return Page{}, err
	}

	endpoint := o.baseURL + "/me/onenote/sections/" + url.PathEscape(sectionID) + "/pages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var page Page
	if err := o.do(req, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

func listAll[T any](ctx context.Context, o *OneNote, endpoint string) ([]T, error) {
	items := []T{}
	for endpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var page listResponse[T]
		if err := o.do(req, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		endpoint = page.NextLink
	}
	return items, nil
}

func (o *OneNote) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return o.do(req, out)
}

func (o *OneNote) do(req *http.Request, out any) error {
	client, err := o.clients.Client(req.Context())
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			log.Printf("[export] token refresh rejected: %v", retrieveErr)
			return ErrNotAuthenticated
		}
		return fmt.Errorf("graph request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}
