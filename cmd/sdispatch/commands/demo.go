package commands

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/Suhaibinator/SDispatch/pkg/app"
	"github.com/Suhaibinator/SDispatch/pkg/common"
	"github.com/Suhaibinator/SDispatch/pkg/extract"
	"github.com/Suhaibinator/SDispatch/pkg/middleware"
	"github.com/Suhaibinator/SDispatch/pkg/router"
	"github.com/Suhaibinator/SDispatch/pkg/ws"
)

// User is a record in the demo directory.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

// ListUsersParams are the query parameters of GET /api/users.
type ListUsersParams struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// ListUsersResponse is the body of GET /api/users.
type ListUsersResponse struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// directory is the in-memory user store shared with handlers as state.
type directory struct {
	mu     sync.RWMutex
	users  map[int]User
	nextID int
}

func newDirectory() *directory {
	d := &directory{users: make(map[int]User), nextID: 1}
	d.add("John Doe", "john@example.com")
	d.add("Jane Smith", "jane@example.com")
	return d
}

func (d *directory) add(name, email string) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := User{ID: d.nextID, Name: name, Email: email}
	d.users[u.ID] = u
	d.nextID++
	return u
}

func (d *directory) get(id int) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

func (d *directory) remove(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; !ok {
		return false
	}
	delete(d.users, id)
	return true
}

func (d *directory) list(limit, offset int) ([]User, int) {
	d.mu.RLock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b User) int { return a.ID - b.ID })
	total := len(out)
	if limit <= 0 {
		limit = 10
	}
	offset = min(max(offset, 0), total)
	return out[offset:min(offset+limit, total)], total
}

func userNotFound(id int) error {
	return common.NotFound("User " + strconv.Itoa(id) + " not found")
}

// usersRouter serves /api/users. The circuit breaker guards the whole group.
func usersRouter(breaker *middleware.CircuitBreaker) *router.Router {
	dir := extract.State[*directory]()

	list := extract.Handler2(dir, extract.Query[ListUsersParams](),
		func(ctx context.Context, d *directory, p ListUsersParams) (ListUsersResponse, error) {
			users, total := d.list(p.Limit, p.Offset)
			return ListUsersResponse{Users: users, Total: total}, nil
		})

	create := extract.Handler2(dir, extract.ValidatedJSON[CreateUserRequest](),
		func(ctx context.Context, d *directory, req CreateUserRequest) (*common.Response, error) {
			return common.JSON(http.StatusCreated, d.add(req.Name, req.Email)), nil
		})

	get := extract.Handler2(dir, extract.PathParam[int]("id"),
		func(ctx context.Context, d *directory, id int) (User, error) {
			u, ok := d.get(id)
			if !ok {
				return User{}, userNotFound(id)
			}
			return u, nil
		})

	remove := extract.Handler2(dir, extract.PathParam[int]("id"),
		func(ctx context.Context, d *directory, id int) (*common.Response, error) {
			if !d.remove(id) {
				return nil, userNotFound(id)
			}
			return common.NoContent(), nil
		})

	return router.NewRouter(nil).
		Route("/", router.Get(list).Post(create).With(breaker)).
		Route("/{id}", router.Get(get).Delete(remove).With(breaker))
}

type hello struct {
	Message string `json:"message"`
}

// demoApp registers the routes served by the serve command.
func demoApp(config app.Config) *app.App {
	a := app.New(config)
	breaker := middleware.NewCircuitBreaker(middleware.CircuitBreakerConfig{Name: "users"}, a.Logger())

	return a.
		State(newDirectory()).
		Route("/hello", router.Get(extract.Handler0(func(ctx context.Context) (hello, error) {
			return hello{Message: "Hello, World!"}, nil
		}))).
		Route("/health", router.Get(router.Endpoint(func(r *common.Request) *common.Response {
			return common.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}))).
		Route("/ws/echo", router.Get(ws.Upgrade(ws.Echo, ws.Config{Logger: a.Logger()}))).
		Nest("/api/users", usersRouter(breaker))
}
