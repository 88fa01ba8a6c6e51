package core

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router *gin.Engine
	tokens *TokenService
	users  *memUserRepo
	books  *memBookRepo
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := newMemUserRepo()
	books := newMemBookRepo()
	tokens := NewTokenService("test-secret", time.Hour)
	authService := NewRepositoryAuthService(users)
	catalog := NewCatalogService(books, nil, nil)

	router := NewRouter(Config{Port: "0"}, tokens, authService, users, nil, catalog, nil, nil)
	return &apiFixture{router: router, tokens: tokens, users: users, books: books}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %q", w.Body.String())
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestLoginFlow(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/auth/register",
		"", gin.H{"login": "ana", "email": "ana@example.com", "password": "secret1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc == "" {
		t.Fatal("register missing Location header")
	}

	w = f.do(http.MethodPost, "/api/v1/auth/login",
		"", gin.H{"login": "ana", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	var cookieSet bool
	for _, c := range w.Result().Cookies() {
		if c.Name == TokenCookieName && c.Value == token {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Fatal("login did not set the token cookie")
	}

	w = f.do(http.MethodGet, "/api/v1/users/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	me := decodeBody(t, w)
	if me["login"] != "ana" || me["role"] != RoleUser {
		t.Fatalf("me = %v", me)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/auth/register",
		"", gin.H{"login": "ana", "email": "ana@example.com", "password": "secret1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}

	for _, payload := range []gin.H{
		{"login": "ana", "password": "wrong"},
		{"login": "nobody", "password": "secret1"},
	} {
		w = f.do(http.MethodPost, "/api/v1/auth/login", "", payload)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("login %v status = %d, want 401", payload, w.Code)
		}
		if code := errorCode(t, w); code != "INVALID_CREDENTIALS" {
			t.Fatalf("error code = %q, want INVALID_CREDENTIALS", code)
		}
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	f := newAPIFixture(t)

	payload := gin.H{"login": "ana", "email": "ana@example.com", "password": "secret1"}
	if w := f.do(http.MethodPost, "/api/v1/auth/register", "", payload); w.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", w.Code)
	}
	w := f.do(http.MethodPost, "/api/v1/auth/register", "", payload)
	if w.Code != http.StatusConflict {
		t.Fatalf("second register status = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "DUPLICATE_LOGIN" {
		t.Fatalf("error code = %q, want DUPLICATE_LOGIN", code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/auth/logout", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", w.Code)
	}
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == TokenCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout did not expire the token cookie")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/v1/livros", "/api/v1/livros/catalogo", "/api/v1/users/me"} {
		w := f.do(http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want 401", path, w.Code)
		}
	}
	if w := f.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", w.Code)
	}
}

func TestLivroAdminCRUD(t *testing.T) {
	f := newAPIFixture(t)
	seedUser(t, f.users, "root", RoleAdmin)
	seedUser(t, f.users, "ana", RoleUser)
	adminToken, _ := f.tokens.Issue("root")
	userToken, _ := f.tokens.Issue("ana")

	payload := gin.H{
		"titulo": "Dom Casmurro", "autor": "Machado de Assis",
		"ano_publicacao": 1899, "quantidade_disponivel": 1,
	}

	// Catalog mutation is admin-only.
	if w := f.do(http.MethodPost, "/api/v1/livros", userToken, payload); w.Code != http.StatusForbidden {
		t.Fatalf("user create status = %d, want 403", w.Code)
	}

	w := f.do(http.MethodPost, "/api/v1/livros", adminToken, payload)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d, body %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["id"].(string)
	if id == "" {
		t.Fatal("create returned no id")
	}
	if loc := w.Header().Get("Location"); !strings.HasSuffix(loc, id) {
		t.Fatalf("Location = %q, want suffix %q", loc, id)
	}

	// Reads are open to any authenticated role.
	if w := f.do(http.MethodGet, "/api/v1/livros/"+id, userToken, nil); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	patch := gin.H{"titulo": "Dom Casmurro (edição revista)"}
	if w := f.do(http.MethodPatch, "/api/v1/livros/"+id, adminToken, patch); w.Code != http.StatusNoContent {
		t.Fatalf("patch status = %d, body %s", w.Code, w.Body.String())
	}

	if w := f.do(http.MethodDelete, "/api/v1/livros/"+id, adminToken, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/v1/livros/"+id, userToken, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestLivroCreateRejectsFutureYear(t *testing.T) {
	f := newAPIFixture(t)
	seedUser(t, f.users, "root", RoleAdmin)
	adminToken, _ := f.tokens.Issue("root")

	w := f.do(http.MethodPost, "/api/v1/livros", adminToken, gin.H{
		"titulo": "Do Futuro", "autor": "Ninguém",
		"ano_publicacao": time.Now().Year() + 1, "quantidade_disponivel": 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLoanEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	seedUser(t, f.users, "root", RoleAdmin)
	seedUser(t, f.users, "ana", RoleUser)
	adminToken, _ := f.tokens.Issue("root")
	userToken, _ := f.tokens.Issue("ana")

	w := f.do(http.MethodPost, "/api/v1/livros", adminToken, gin.H{
		"titulo": "Dom Casmurro", "autor": "Machado de Assis",
		"ano_publicacao": 1899, "quantidade_disponivel": 1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	id, _ := decodeBody(t, w)["id"].(string)

	w = f.do(http.MethodPost, "/api/v1/livros/"+id+"/emprestar", userToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("loan status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodPost, "/api/v1/livros/"+id+"/emprestar", userToken, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second loan status = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "NO_COPIES_AVAILABLE" {
		t.Fatalf("error code = %q", code)
	}

	w = f.do(http.MethodPost, "/api/v1/livros/"+id+"/devolver", userToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("return status = %d", w.Code)
	}

	w = f.do(http.MethodPost, "/api/v1/livros/"+id+"/devolver", userToken, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second return status = %d, want 409", w.Code)
	}
	if code := errorCode(t, w); code != "ALL_COPIES_PRESENT" {
		t.Fatalf("error code = %q", code)
	}

	w = f.do(http.MethodPost, "/api/v1/livros/"+id+"/reservar", userToken, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("reserve status = %d, want 202", w.Code)
	}

	if w := f.do(http.MethodPost, "/api/v1/livros/not-a-uuid/emprestar", userToken, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d, want 400", w.Code)
	}
}

func TestAdminUserManagement(t *testing.T) {
	f := newAPIFixture(t)
	seedUser(t, f.users, "root", RoleAdmin)
	seedUser(t, f.users, "ana", RoleUser)
	adminToken, _ := f.tokens.Issue("root")
	userToken, _ := f.tokens.Issue("ana")

	if w := f.do(http.MethodGet, "/api/v1/admin/usuarios", userToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("user list status = %d, want 403", w.Code)
	}

	w := f.do(http.MethodPost, "/api/v1/admin/usuarios", adminToken,
		gin.H{"login": "bia", "email": "bia@example.com", "password": "secret1", "role": "USER"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user status = %d, body %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["id"].(string)

	w = f.do(http.MethodGet, "/api/v1/admin/usuarios/"+id, adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get user status = %d", w.Code)
	}

	role := "ADMIN"
	w = f.do(http.MethodPatch, "/api/v1/admin/usuarios/"+id, adminToken, gin.H{"role": role})
	if w.Code != http.StatusNoContent {
		t.Fatalf("patch user status = %d, body %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodDelete, "/api/v1/admin/usuarios/"+id, adminToken, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete user status = %d", w.Code)
	}
	w = f.do(http.MethodDelete, "/api/v1/admin/usuarios/"+id, adminToken, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", w.Code)
	}
}
