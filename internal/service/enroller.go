package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPEnroller calls the host platform's enrollment API:
//
//	POST   {base}/enrollments                      {"member_id","course_id"}
//	DELETE {base}/enrollments/{member_id}/{course_id}
//
// An already-enrolled member (409) and an already-removed enrollment (404)
// count as success.
type HTTPEnroller struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPEnroller returns an enroller for the API at baseURL.  token, when
// set, is sent as a bearer token.
func NewHTTPEnroller(baseURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPEnroller {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPEnroller{client: client, logger: logger.Named("enroller")}
}

// Enroll grants the member access to the course.
func (e *HTTPEnroller) Enroll(ctx context.Context, memberID, courseID string) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"member_id": memberID, "course_id": courseID}).
		Post("/enrollments")
	if err != nil {
		return fmt.Errorf("enroll %s in %s: %w", memberID, courseID, err)
	}
	switch {
	case resp.IsSuccess(), resp.StatusCode() == http.StatusConflict:
		return nil
	}
	e.logger.Warn("enroll rejected",
		zap.String("member_id", memberID),
		zap.String("course_id", courseID),
		zap.Int("status", resp.StatusCode()),
		zap.String("body", resp.String()))
	return fmt.Errorf("enroll %s in %s: status %d", memberID, courseID, resp.StatusCode())
}

// Unenroll revokes the member's access to the course.
func (e *HTTPEnroller) Unenroll(ctx context.Context, memberID, courseID string) error {
	resp, err := e.client.R().
		SetContext(ctx).
		Delete("/enrollments/" + url.PathEscape(memberID) + "/" + url.PathEscape(courseID))
	if err != nil {
		return fmt.Errorf("unenroll %s from %s: %w", memberID, courseID, err)
	}
	if resp.IsSuccess() || resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("unenroll %s from %s: status %d", memberID, courseID, resp.StatusCode())
}
