package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/chronicle/pkg/httputil"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Customer is the audited sample entity served under /customers
type Customer struct {
	ID             int64  `db:"id,pk,auto" json:"id"`
	CustomerNumber string `db:"customer_number" json:"customer_number"`
	Name           string `db:"name" json:"name"`
	Email          string `db:"email" json:"email"`
}

var errCustomerNotFound = errors.New("customer not found")

var customerSchema = map[uow.Dialect]string{
	uow.Postgres: `
		CREATE TABLE IF NOT EXISTS customers (
			id BIGSERIAL PRIMARY KEY,
			customer_number TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT ''
		)`,
	uow.SQLite: `
		CREATE TABLE IF NOT EXISTS customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_number TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT ''
		)`,
}

// CustomerService writes customers through unit-of-work sessions so every
// change passes the audit interceptor
type CustomerService struct {
	manager *uow.Manager
}

// NewCustomerService creates a customer service on the primary manager
func NewCustomerService(manager *uow.Manager) *CustomerService {
	return &CustomerService{manager: manager}
}

// EnsureSchema creates the customers table
func (s *CustomerService) EnsureSchema(ctx context.Context) error {
	ddl, ok := customerSchema[s.manager.Dialect()]
	if !ok {
		return fmt.Errorf("no customer schema for dialect %s", s.manager.Dialect().Name())
	}
	if _, err := s.manager.DB().ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create customers table: %w", err)
	}
	return nil
}

// Create inserts a customer and fills in its ID
func (s *CustomerService) Create(ctx context.Context, c *Customer) error {
	session := s.manager.NewSession()
	defer session.Close()

	if err := session.Add(c); err != nil {
		return err
	}
	_, err := session.Commit(ctx)
	return err
}

// Get loads one customer by ID
func (s *CustomerService) Get(ctx context.Context, id int64) (*Customer, error) {
	query := "SELECT id, customer_number, name, email FROM customers WHERE id = " + s.manager.Dialect().Placeholder(1)

	var c Customer
	err := s.manager.DB().QueryRowContext(ctx, query, id).Scan(&c.ID, &c.CustomerNumber, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	return &c, nil
}

// Update loads a customer, applies fn and commits whatever fn changed
func (s *CustomerService) Update(ctx context.Context, id int64, fn func(*Customer)) (*Customer, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session := s.manager.NewSession()
	defer session.Close()

	if err := session.Attach(c); err != nil {
		return nil, err
	}
	fn(c)
	if _, err := session.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a customer
func (s *CustomerService) Delete(ctx context.Context, id int64) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	session := s.manager.NewSession()
	defer session.Close()

	if err := session.Remove(c); err != nil {
		return err
	}
	_, err = session.Commit(ctx)
	return err
}

// Seed inserts n generated customers using concurrent sessions
func (s *CustomerService) Seed(ctx context.Context, n, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i := range n {
		g.Go(func() error {
			return s.Create(ctx, &Customer{
				CustomerNumber: fmt.Sprintf("SEED-%05d", i+1),
				Name:           fmt.Sprintf("Seed Customer %d", i+1),
			})
		})
	}
	return g.Wait()
}

// CustomerHandlers provides HTTP handlers for customer CRUD
type CustomerHandlers struct {
	customers *CustomerService
}

// NewCustomerHandlers creates new customer handlers
func NewCustomerHandlers(customers *CustomerService) *CustomerHandlers {
	return &CustomerHandlers{customers: customers}
}

// RegisterRoutes registers customer routes
func (h *CustomerHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/customers", h.createCustomer).Methods("POST")
	router.HandleFunc("/customers/{id}", h.getCustomer).Methods("GET")
	router.HandleFunc("/customers/{id}", h.updateCustomer).Methods("PUT")
	router.HandleFunc("/customers/{id}", h.deleteCustomer).Methods("DELETE")
}

// customerRequest carries optional fields so PUT only touches what was sent
type customerRequest struct {
	CustomerNumber *string `json:"customer_number"`
	Name           *string `json:"name"`
	Email          *string `json:"email"`
}

func (req customerRequest) apply(c *Customer) {
	if req.CustomerNumber != nil {
		c.CustomerNumber = *req.CustomerNumber
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Email != nil {
		c.Email = *req.Email
	}
}

// createCustomer handles POST /customers
func (h *CustomerHandlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CustomerNumber == nil || *req.CustomerNumber == "" {
		httputil.WriteBadRequest(w, "customer_number is required")
		return
	}

	var c Customer
	req.apply(&c)
	if err := h.customers.Create(r.Context(), &c); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, c)
}

// getCustomer handles GET /customers/{id}
func (h *CustomerHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, c)
}

// updateCustomer handles PUT /customers/{id}
func (h *CustomerHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req customerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	c, err := h.customers.Update(r.Context(), id, req.apply)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, c)
}

// deleteCustomer handles DELETE /customers/{id}
func (h *CustomerHandlers) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.customers.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomerHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errCustomerNotFound), errors.Is(err, uow.ErrNoRowsAffected):
		httputil.WriteNotFound(w, "customer not found")
	default:
		observability.FromContext(r.Context()).WithFields(logrus.Fields{
			"path": r.URL.Path,
		}).WithError(err).Error("customer request failed")
		httputil.WriteInternalError(w)
	}
}
