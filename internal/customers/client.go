// Package customers is the client side of the customer registry's internal
// lookup endpoint.
package customers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
)

type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// TokenSource mints a service credential. It is called once per request.
type TokenSource interface {
	Token() (string, error)
}

type Client struct {
	http   *resty.Client
	tokens TokenSource
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c, tokens: tokens}
}

// Validate looks the customer up. A 404 is "customer not found"; any other
// non-success answer, including a rejected credential, is a generic
// validation failure. Both are caller errors and are not retried.
func (c *Client) Validate(ctx context.Context, id int64) (Customer, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return Customer{}, apperr.Internal("mint service token", err)
	}

	var out Customer
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&out).
		Get("/api/internal/customers/{id}")
	if err != nil {
		return Customer{}, apperr.Transport("customers", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return Customer{}, apperr.Validation("CUSTOMER_NOT_FOUND", "customer not found").WithStatus(resp.StatusCode())
	case !resp.IsSuccess():
		e := apperr.Validation("CUSTOMER_VALIDATION_FAILED", "failed to validate customer").WithStatus(resp.StatusCode())
		e.Err = fmt.Errorf("customers service answered %d: %s", resp.StatusCode(), resp.String())
		return Customer{}, e
	}
	if out.ID == 0 {
		out.ID = id
	}
	return out, nil
}

// ValidateCustomer adapts Validate to orders.CustomerGate.
func (c *Client) ValidateCustomer(ctx context.Context, id int64) error {
	_, err := c.Validate(ctx, id)
	return err
}
