package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gambit/internal/client/display"
	"gambit/internal/core"
)

// Response shapes the server builds inline rather than from core types.

type HealthResponse struct {
	Status            string `json:"status"`
	Time              int64  `json:"time"`
	ActiveMatches     int    `json:"activeMatches"`
	PendingChallenges int    `json:"pendingChallenges"`
	Archive           string `json:"archive"`
}

type ResignResponse struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Verbose    bool
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) SetVerbose(v bool) {
	c.Verbose = v
}

// SetBaseURL updates the API base URL for the client
func (c *Client) SetBaseURL(url string) {
	c.BaseURL = strings.TrimRight(url, "/")
}

func (c *Client) doRequest(method, path string, body interface{}, result interface{}) error {
	url := c.BaseURL + path

	// Prepare body
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonData)
		bodyStr = string(jsonData)
	}

	// Create request
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Display request
	fmt.Printf("\n%s[API] %s %s%s\n", display.Blue, method, path, display.Reset)
	if bodyStr != "" {
		if c.Verbose {
			// Display request body if verbose
			var prettyBody interface{}
			json.Unmarshal([]byte(bodyStr), &prettyBody)
			prettyJSON, _ := json.MarshalIndent(prettyBody, "", "  ")
			fmt.Printf("%sRequest Body:%s\n%s\n", display.Cyan, display.Reset, string(prettyJSON))
		} else {
			fmt.Printf("%s%s%s\n", display.Blue, bodyStr, display.Reset)
		}
	}

	// Execute request
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		fmt.Printf("%s[ERROR] %s%s\n", display.Red, err.Error(), display.Reset)
		return err
	}
	defer resp.Body.Close()

	// Read response
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Display response
	statusColor := display.Green
	if resp.StatusCode >= 400 {
		statusColor = display.Red
	}
	fmt.Printf("%s[%d %s]%s\n", statusColor, resp.StatusCode, http.StatusText(resp.StatusCode), display.Reset)

	// Display response body if verbose
	if c.Verbose && len(respBody) > 0 {
		var prettyResp interface{}
		if err := json.Unmarshal(respBody, &prettyResp); err == nil {
			prettyJSON, _ := json.MarshalIndent(prettyResp, "", "  ")
			fmt.Printf("%sResponse Body:%s\n%s\n", display.Cyan, display.Reset, string(prettyJSON))
		} else {
			fmt.Printf("%sResponse:%s\n%s\n", display.Cyan, display.Reset, string(respBody))
		}
	}

	// Parse error response
	if resp.StatusCode >= 400 {
		var errResp core.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			if !c.Verbose {
				fmt.Printf("%sError: %s%s\n", display.Red, errResp.Error, display.Reset)
				if errResp.Code != "" {
					fmt.Printf("%sCode: %s%s\n", display.Red, errResp.Code, display.Reset)
				}
				if errResp.Details != "" {
					fmt.Printf("%sDetails: %s%s\n", display.Red, errResp.Details, display.Reset)
				}
			}
		} else if !c.Verbose {
			fmt.Printf("%s%s%s\n", display.Red, string(respBody), display.Reset)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	// Parse success response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			// For debug, show raw response if parsing fails
			fmt.Printf("%sResponse parse error: %s%s\n", display.Red, err.Error(), display.Reset)
			fmt.Printf("%sRaw response: %s%s\n", display.Green, string(respBody), display.Reset)
			return err
		}
	}

	return nil
}

// API Methods

func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest("GET", "/api/health", nil, &resp)
	return &resp, err
}

func (c *Client) ProposeChallenge(challengerID, challengedID string) (*core.ChallengeResponse, error) {
	req := &core.ProposeChallengeRequest{
		ChallengerID: challengerID,
		ChallengedID: challengedID,
	}
	var resp core.ChallengeResponse
	err := c.doRequest("POST", "/api/challenge", req, &resp)
	return &resp, err
}

func (c *Client) GetChallenge(participantID string) (*core.ChallengeResponse, error) {
	var resp core.ChallengeResponse
	err := c.doRequest("GET", "/api/challenge/"+url.PathEscape(participantID), nil, &resp)
	return &resp, err
}

func (c *Client) AcceptChallenge(participantID string) (*core.MatchResponse, error) {
	req := &core.AcceptChallengeRequest{ParticipantID: participantID}
	var resp core.MatchResponse
	err := c.doRequest("POST", "/api/challenge/accept", req, &resp)
	return &resp, err
}

func (c *Client) CancelChallenge(participantID string) error {
	req := &core.CancelChallengeRequest{ParticipantID: participantID}
	return c.doRequest("POST", "/api/challenge/cancel", req, nil)
}

func (c *Client) CreateMatch(participantID, difficulty string) (*core.MatchResponse, error) {
	req := &core.CreateMatchRequest{
		ParticipantID: participantID,
		Difficulty:    difficulty,
	}
	var resp core.MatchResponse
	err := c.doRequest("POST", "/api/match", req, &resp)
	return &resp, err
}

func (c *Client) GetMatch(participantID string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("GET", "/api/match/"+url.PathEscape(participantID), nil, &resp)
	return &resp, err
}

// GetMatchWithWait long-polls until the position moves past sinceKey,
// the match ends, or the server times the poll out (~25s).
func (c *Client) GetMatchWithWait(participantID, sinceKey string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	path := fmt.Sprintf("/api/match/%s?wait=true&since=%s",
		url.PathEscape(participantID), url.QueryEscape(sinceKey))
	err := c.doRequest("GET", path, nil, &resp)
	return &resp, err
}

func (c *Client) MakeMove(participantID, move string) (*core.MoveResponse, error) {
	req := &core.MoveRequest{
		ParticipantID: participantID,
		Move:          move,
	}
	var resp core.MoveResponse
	err := c.doRequest("POST", "/api/match/move", req, &resp)
	return &resp, err
}

func (c *Client) EngineReply(participantID string) (*core.MoveResponse, error) {
	req := &core.ReplyRequest{ParticipantID: participantID}
	var resp core.MoveResponse
	err := c.doRequest("POST", "/api/match/reply", req, &resp)
	return &resp, err
}

func (c *Client) Resign(participantID string) (*ResignResponse, error) {
	req := &core.ResignRequest{ParticipantID: participantID}
	var resp ResignResponse
	err := c.doRequest("POST", "/api/match/resign", req, &resp)
	return &resp, err
}

func (c *Client) GetBoard(participantID string) (*core.BoardResponse, error) {
	var resp core.BoardResponse
	err := c.doRequest("GET", "/api/match/"+url.PathEscape(participantID)+"/board", nil, &resp)
	return &resp, err
}

func (c *Client) RecentMatches(participantID string, limit int) ([]core.ArchiveEntryResponse, error) {
	q := url.Values{}
	if participantID != "" {
		q.Set("participantId", participantID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/api/archive/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp []core.ArchiveEntryResponse
	err := c.doRequest("GET", path, nil, &resp)
	return resp, err
}

// RawRequest performs a raw HTTP request for debugging purposes
func (c *Client) RawRequest(method, path string, body string) error {
	var bodyData interface{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &bodyData); err != nil {
			// Try as raw string
			bodyData = body
		}
	}

	return c.doRequest(method, path, bodyData, nil)
}
