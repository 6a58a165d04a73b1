package task

import (
	"context"
	"errors"
	"net/url"
)

// Poster sends a form to a remote endpoint and returns the response body.
// Implementations wrap ErrStatusCode, ErrEmptyResponse, or ErrRejected when
// the endpoint answers but does not report success.
type Poster interface {
	Post(ctx context.Context, endpoint string, form url.Values) (string, error)
}

// Fetcher downloads rawURL into dir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (string, error)
}

// Deliverer sends an artifact to a recipient.
type Deliverer interface {
	Deliver(ctx context.Context, attachmentPath, recipient, title, author string) error
}

// RemoteCallPayload is the input of a remote_call job.
type RemoteCallPayload struct {
	StatusTargetID string            `json:"status_target_id"`
	URL            string            `json:"url"`
	Form           map[string]string `json:"form"`
}

// TargetID implements Payload.
func (p RemoteCallPayload) TargetID() string { return p.StatusTargetID }

// AssetFetchPayload is the input of an asset_fetch job.
type AssetFetchPayload struct {
	StatusTargetID string `json:"status_target_id"`
	URL            string `json:"url"`
	Dir            string `json:"dir"`
}

// TargetID implements Payload.
func (p AssetFetchPayload) TargetID() string { return p.StatusTargetID }

// NotifyPayload is the input of a notify job.
type NotifyPayload struct {
	StatusTargetID string `json:"status_target_id"`
	AttachmentPath string `json:"attachment_path"`
	Recipient      string `json:"recipient"`
	Title          string `json:"title"`
	Author         string `json:"author"`
}

// TargetID implements Payload.
func (p NotifyPayload) TargetID() string { return p.StatusTargetID }

var errMissingInput = errors.New("required payload field is empty")

// RemoteCallDefinition posts the payload form to its URL. The body returned
// by poster becomes the job output.
func RemoteCallDefinition(poster Poster, policy RetryPolicy, hooks Hooks) *Definition {
	return &Definition{
		Kind:   KindRemoteCall,
		Policy: policy,
		Hooks:  hooks,
		Operation: func(ctx context.Context, job *Job) Result {
			var p RemoteCallPayload
			if err := job.Decode(&p); err != nil {
				return Fail(FailureInput, err)
			}
			if p.URL == "" {
				return Fail(FailureInput, errMissingInput)
			}

			form := url.Values{}
			for k, v := range p.Form {
				form.Set(k, v)
			}

			body, err := poster.Post(ctx, p.URL, form)
			if err != nil {
				return Classify(err)
			}
			return Succeed(body)
		},
	}
}

// AssetFetchDefinition downloads the payload URL; the local path is the job output.
func AssetFetchDefinition(fetcher Fetcher, policy RetryPolicy, hooks Hooks) *Definition {
	return &Definition{
		Kind:   KindAssetFetch,
		Policy: policy,
		Hooks:  hooks,
		Operation: func(ctx context.Context, job *Job) Result {
			var p AssetFetchPayload
			if err := job.Decode(&p); err != nil {
				return Fail(FailureInput, err)
			}
			if p.URL == "" || p.Dir == "" {
				return Fail(FailureInput, errMissingInput)
			}

			path, err := fetcher.Fetch(ctx, p.URL, p.Dir)
			if err != nil {
				return Classify(err)
			}
			return Succeed(path)
		},
	}
}

// NotifyDefinition delivers the payload attachment; the attachment path is
// the job output.
func NotifyDefinition(deliverer Deliverer, policy RetryPolicy, hooks Hooks) *Definition {
	return &Definition{
		Kind:   KindNotify,
		Policy: policy,
		Hooks:  hooks,
		Operation: func(ctx context.Context, job *Job) Result {
			var p NotifyPayload
			if err := job.Decode(&p); err != nil {
				return Fail(FailureInput, err)
			}
			if p.AttachmentPath == "" || p.Recipient == "" {
				return Fail(FailureInput, errMissingInput)
			}

			if err := deliverer.Deliver(ctx, p.AttachmentPath, p.Recipient, p.Title, p.Author); err != nil {
				return Classify(err)
			}
			return Succeed(p.AttachmentPath)
		},
	}
}
