package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ligustah/objstream/pkg/transport"
)

// Description is the platform's view of an object.
type Description struct {
	ID      string `json:"id"`
	Project string `json:"project,omitempty"`
	Class   string `json:"class,omitempty"`
	State   State  `json:"state"`
	Size    int64  `json:"size"`
	Name    string `json:"name,omitempty"`
	Media   string `json:"media,omitempty"`
}

type newOutput struct {
	ID string `json:"id"`
}

type uploadInput struct {
	Index int    `json:"index"`
	Size  int    `json:"size"`
	MD5   string `json:"md5"`
}

// uploadTarget is a single-use, pre-authenticated part upload location.
type uploadTarget struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type downloadInput struct {
	Duration         int64 `json:"duration"`
	Preauthenticated bool  `json:"preauthenticated"`
}

type downloadOutput struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	// Expires is the expiry of the URL in milliseconds since the epoch.
	Expires int64 `json:"expires,omitempty"`
}

// createObject allocates a new object. The call carries a nonce so that a
// retried request cannot create a second object.
func createObject(ctx context.Context, c *transport.Client, opts Options) (string, error) {
	body := map[string]any{}
	if opts.Project != "" {
		body["project"] = opts.Project
	}
	if opts.Name != "" {
		body["name"] = opts.Name
	}
	if opts.Media != "" {
		body["media"] = opts.Media
	}
	body = transport.WithNonce(body)

	var out newOutput
	if err := c.Post(ctx, "/file/new", body, &out, true); err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	if out.ID == "" {
		return "", &transport.DecodeError{Err: fmt.Errorf("create object: response has no id")}
	}
	return out.ID, nil
}

func describe(ctx context.Context, c *transport.Client, id string) (Description, error) {
	var d Description
	if err := c.Post(ctx, "/"+id+"/describe", nil, &d, false); err != nil {
		return Description{}, fmt.Errorf("describe %s: %w", id, err)
	}
	state, err := parseState(string(d.State))
	if err != nil {
		return Description{}, &transport.DecodeError{Err: fmt.Errorf("describe %s: %w", id, err)}
	}
	d.State = state
	return d, nil
}

// requestUpload asks for the location of part index. It runs inside the retry
// loop of the part transfer, so callers pass a shrinking retry budget to keep
// nested retries from multiplying.
func requestUpload(ctx context.Context, c *transport.Client, id string, in uploadInput, maxRetries int) (uploadTarget, error) {
	var out uploadTarget
	req := c.NewRequest(http.MethodPost, "/"+id+"/upload")
	req.JSON = in
	req.Result = &out
	req.MaxRetries = maxRetries
	if _, err := c.Do(ctx, req); err != nil {
		return uploadTarget{}, fmt.Errorf("request upload of part %d: %w", in.Index, err)
	}
	return out, nil
}

func requestDownload(ctx context.Context, c *transport.Client, id string, duration time.Duration) (downloadOutput, error) {
	in := downloadInput{Duration: int64(duration / time.Second), Preauthenticated: true}
	var out downloadOutput
	if err := c.Post(ctx, "/"+id+"/download", in, &out, false); err != nil {
		return downloadOutput{}, fmt.Errorf("request download of %s: %w", id, err)
	}
	return out, nil
}

func closeObject(ctx context.Context, c *transport.Client, id string) error {
	if err := c.Post(ctx, "/"+id+"/close", nil, nil, false); err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	return nil
}
