package client

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// invalidKeyPattern is the server's detail message for a bad credential;
// matching it routes the response into the recovery flow instead of an
// error.
const invalidKeyPattern = "The API key you provided is invalid"

const genericKeyMessage = "Please provide an Aviary API key."

// outcome is the visible result of resolving a server response.
type outcome int

const (
	// outcomeOK: the response is usable.
	outcomeOK outcome = iota
	// outcomeNeedsRecovery: the credential recovery flow ran; the original
	// operation was abandoned and must be retried.
	outcomeNeedsRecovery
	// outcomeErr: a terminal error to surface to the caller.
	outcomeErr
)

type resolution struct {
	outcome outcome
	err     error
}

// resolve inspects a completed response. Status codes below 400 pass
// through. Otherwise the JSON "detail" message decides: the
// invalid-credential pattern triggers recovery (when the client opted in),
// other authorization messages are rewritten to the generic provide-a-key
// message, and everything else becomes a ServerError.
func (c *Client) resolve(ctx context.Context, resp *http.Response, checkAPIKey bool) resolution {
	if resp.StatusCode < 400 {
		return resolution{outcome: outcomeOK}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return resolution{outcome: outcomeErr, err: &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("JSON response could not be decoded. The server response was: %s", string(raw)),
		}}
	}
	message := body.Detail

	if strings.Contains(message, invalidKeyPattern) && checkAPIKey && c.recovery {
		c.recoverCredentials(ctx)
		return resolution{outcome: outcomeNeedsRecovery}
	}
	if strings.Contains(message, "Authorization") {
		fmt.Fprintln(c.out, message)
		message = genericKeyMessage
	}
	return resolution{outcome: outcomeErr, err: &ServerError{StatusCode: resp.StatusCode, Message: message}}
}

// resolveOrErr collapses a resolution into an error: nil on success and
// ErrRetryAfterRecovery when the recovery flow consumed the operation.
func (c *Client) resolveOrErr(ctx context.Context, resp *http.Response, checkAPIKey bool) error {
	res := c.resolve(ctx, resp, checkAPIKey)
	switch res.outcome {
	case outcomeOK:
		return nil
	case outcomeNeedsRecovery:
		return ErrRetryAfterRecovery
	default:
		return res.err
	}
}

// blobErrorBody is the blob store's XML error shape.
type blobErrorBody struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
	Details string `xml:"Details"`
}

// resolveBlob validates a blob-store upload or download response. Errors
// arrive as XML with Code/Message/Details elements and are re-raised as
// the same ServerError family.
func resolveBlob(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var body blobErrorBody
	if err := xml.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("XML response could not be decoded. The server response was: %s", string(raw)),
		}
	}
	return &ServerError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("an error occurred: %s - %s - %s", body.Code, body.Message, body.Details),
	}
}
