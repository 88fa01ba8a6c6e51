package core

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// createLivroDTO validates catalog insertions.
type createLivroDTO struct {
	Titulo               string `json:"titulo" binding:"required,min=2,max=100"`
	Autor                string `json:"autor" binding:"required,min=2,max=100"`
	Genero               string `json:"genero"`
	AnoPublicacao        int    `json:"ano_publicacao" binding:"required,min=1800"`
	QuantidadeDisponivel int    `json:"quantidade_disponivel" binding:"min=0"`
	ISBN                 string `json:"isbn"`
	Tags                 string `json:"tags"`
}

// updateLivroDTO carries an optional value per field; absent fields keep
// the stored value. Deliberately no required tags.
type updateLivroDTO struct {
	Titulo               *string `json:"titulo" binding:"omitempty,min=2,max=100"`
	Autor                *string `json:"autor" binding:"omitempty,min=2,max=100"`
	Genero               *string `json:"genero"`
	AnoPublicacao        *int    `json:"ano_publicacao" binding:"omitempty,min=1800"`
	QuantidadeDisponivel *int    `json:"quantidade_disponivel" binding:"omitempty,min=0"`
	ISBN                 *string `json:"isbn"`
	Tags                 *string `json:"tags"`
}

// NewRouter constructs the Gin engine with routes wired. db may be nil
// when no system-status probe is wanted.
func NewRouter(cfg Config, tokens *TokenService, authService AuthService, userRepo UserRepository,
	db *pgxpool.Pool, books *CatalogService, covers *CoverStorage, metrics *MetricsService) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()

	// Authentication runs once for every request; authorization is
	// enforced per route group below.
	r.Use(AuthMiddleware(tokens, userRepo))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Cover images are public static assets.
	if covers != nil {
		r.Static("/uploads", covers.BaseDir())
	}

	api := r.Group("/api/v1")
	{
		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Login    string `json:"login"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}

			user, err := authService.Authenticate(c.Request.Context(), req.Login, req.Password)
			if err != nil {
				// Generic failure: never reveal which of the two fields was wrong.
				respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Credenciais inválidas.")
				return
			}

			token, err := tokens.Issue(user.Login)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue token")
				return
			}

			// Cookie fallback carrier for the same token, used across
			// browser redirects. Not HttpOnly: the frontend reads it.
			c.SetCookie(TokenCookieName, token, tokens.TTLSeconds(), "/", "", cfg.CookieSecure, false)

			if metrics != nil {
				metrics.RecordLogin(c.Request.Context())
			}
			c.JSON(http.StatusOK, gin.H{
				"token": token,
				"user":  gin.H{"login": user.Login, "role": user.Role},
			})
		})

		api.POST("/auth/register", func(c *gin.Context) {
			var req struct {
				Login    string `json:"login" binding:"required,min=2,max=100"`
				Email    string `json:"email" binding:"required,email"`
				Password string `json:"password" binding:"required,min=6"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid registration payload")
				return
			}

			user, err := authService.Register(c.Request.Context(), req.Login, req.Email, req.Password)
			if err != nil {
				if errors.Is(err, ErrDuplicateLogin) {
					respondError(c, http.StatusConflict, "DUPLICATE_LOGIN", "Este login já está cadastrado.")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to register user")
				return
			}

			if metrics != nil {
				metrics.RecordRegistration(c.Request.Context())
			}
			c.Header("Location", "/api/v1/admin/usuarios/"+user.ID.String())
			c.JSON(http.StatusCreated, gin.H{"id": user.ID, "login": user.Login, "role": user.Role})
		})

		api.POST("/auth/logout", func(c *gin.Context) {
			// Tokens have no server-side state: logout only discards the
			// cookie copy; header-carried tokens expire on their own.
			c.SetCookie(TokenCookieName, "", -1, "/", "", cfg.CookieSecure, false)
			c.Status(http.StatusNoContent)
		})

		authed := api.Group("")
		authed.Use(RequireUser())

		authed.GET("/users/me", func(c *gin.Context) {
			u, _ := CurrentUser(c)
			c.JSON(http.StatusOK, gin.H{
				"id":          u.ID,
				"login":       u.Login,
				"email":       u.Email,
				"role":        u.Role,
				"authorities": u.Authorities(),
			})
		})

		// Catalog reads, search and loan flow: any authenticated role.
		authed.GET("/livros", func(c *gin.Context) {
			livros, err := books.ListLivros(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list livros")
				return
			}
			c.JSON(http.StatusOK, livros)
		})

		authed.GET("/livros/catalogo", func(c *gin.Context) {
			items, err := books.ListForCatalog(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list catalog")
				return
			}
			c.JSON(http.StatusOK, items)
		})

		authed.GET("/livros/buscar", func(c *gin.Context) {
			livros, err := books.Search(c.Request.Context(), c.Query("termo"))
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "search failed")
				return
			}
			c.JSON(http.StatusOK, livros)
		})

		authed.GET("/livros/buscar-por-tag", func(c *gin.Context) {
			livros, err := books.SearchByTag(c.Request.Context(), c.Query("tag"))
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "search failed")
				return
			}
			c.JSON(http.StatusOK, livros)
		})

		authed.GET("/livros/:id", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			livro, err := books.GetLivro(c.Request.Context(), id)
			if err != nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
				return
			}
			c.JSON(http.StatusOK, livro)
		})

		authed.POST("/livros/:id/emprestar", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			livro, err := books.RequestLoan(c.Request.Context(), id)
			switch {
			case errors.Is(err, ErrNotFound):
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
			case errors.Is(err, ErrNoCopiesAvailable):
				respondError(c, http.StatusConflict, "NO_COPIES_AVAILABLE", "Não há exemplares disponíveis.")
			case err != nil:
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "loan failed")
			default:
				c.JSON(http.StatusOK, livro)
			}
		})

		authed.POST("/livros/:id/devolver", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			livro, err := books.ReturnLivro(c.Request.Context(), id)
			switch {
			case errors.Is(err, ErrNotFound):
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
			case errors.Is(err, ErrAllCopiesPresent):
				respondError(c, http.StatusConflict, "ALL_COPIES_PRESENT", "Todos os exemplares já foram devolvidos.")
			case err != nil:
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "return failed")
			default:
				c.JSON(http.StatusOK, livro)
			}
		})

		authed.POST("/livros/:id/reservar", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			if err := books.ReserveLivro(c.Request.Context(), id); err != nil {
				if errors.Is(err, ErrNotFound) {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "reservation failed")
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "reserva registrada"})
		})

		// Catalog mutation: admin capability required.
		adminBooks := api.Group("/livros")
		adminBooks.Use(AdminOnly())

		adminBooks.POST("", func(c *gin.Context) {
			var dto createLivroDTO
			cover, ok := bindLivroPayload(c, &dto)
			if !ok {
				return
			}
			if dto.AnoPublicacao > time.Now().Year() {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "O ano de publicação não pode ser no futuro.")
				return
			}

			id, err := books.CreateLivro(c.Request.Context(), LivroCreateInput{
				Titulo:               dto.Titulo,
				Autor:                dto.Autor,
				Genero:               dto.Genero,
				AnoPublicacao:        dto.AnoPublicacao,
				QuantidadeDisponivel: dto.QuantidadeDisponivel,
				ISBN:                 dto.ISBN,
				Tags:                 dto.Tags,
			}, cover)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create livro")
				return
			}

			c.Header("Location", "/api/v1/livros/"+id.String())
			c.JSON(http.StatusCreated, gin.H{"id": id})
		})

		adminBooks.PATCH("/:id", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			var dto updateLivroDTO
			cover, ok := bindLivroPayload(c, &dto)
			if !ok {
				return
			}
			if dto.AnoPublicacao != nil && *dto.AnoPublicacao > time.Now().Year() {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "O ano de publicação não pode ser no futuro.")
				return
			}

			err := books.UpdateLivro(c.Request.Context(), id, LivroUpdateInput{
				Titulo:               dto.Titulo,
				Autor:                dto.Autor,
				Genero:               dto.Genero,
				AnoPublicacao:        dto.AnoPublicacao,
				QuantidadeDisponivel: dto.QuantidadeDisponivel,
				ISBN:                 dto.ISBN,
				Tags:                 dto.Tags,
			}, cover)
			switch {
			case errors.Is(err, ErrNotFound):
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
			case err != nil:
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			default:
				c.Status(http.StatusNoContent)
			}
		})

		adminBooks.DELETE("/:id", func(c *gin.Context) {
			id, ok := livroID(c)
			if !ok {
				return
			}
			if err := books.DeleteLivro(c.Request.Context(), id); err != nil {
				if errors.Is(err, ErrNotFound) {
					respondError(c, http.StatusNotFound, "NOT_FOUND", "Livro não encontrado.")
					return
				}
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to delete livro")
				return
			}
			c.Status(http.StatusNoContent)
		})

		admin := api.Group("/admin")
		admin.Use(AdminOnly())

		admin.GET("/metrics/loans", func(c *gin.Context) {
			if metrics == nil {
				respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics store not configured")
				return
			}
			m, err := metrics.Overview(c.Request.Context())
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read metrics")
				return
			}
			c.JSON(http.StatusOK, m)
		})

		admin.GET("/system/status", func(c *gin.Context) {
			var redisClient RedisClientRaw
			if metrics != nil {
				redisClient = metrics.redis
			}
			c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), db, redisClient, startedAt))
		})

		admin.POST("/usuarios", func(c *gin.Context) {
			var req struct {
				Login    string `json:"login" binding:"required,min=2,max=100"`
				Email    string `json:"email" binding:"required,email"`
				Password string `json:"password" binding:"required,min=6"`
				Role     string `json:"role" binding:"required,oneof=ADMIN USER"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user payload")
				return
			}

			ctx := c.Request.Context()
			if existing, err := userRepo.FindByLogin(ctx, req.Login); err == nil && existing != nil {
				respondError(c, http.StatusConflict, "DUPLICATE_LOGIN", "Este login já está cadastrado.")
				return
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to hash password")
				return
			}
			id, err := userRepo.Create(ctx, req.Login, req.Email, string(hash), req.Role)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create user")
				return
			}
			c.Header("Location", "/api/v1/admin/usuarios/"+id.String())
			c.JSON(http.StatusCreated, gin.H{"id": id})
		})

		admin.GET("/usuarios", func(c *gin.Context) {
			page := queryInt(c, "page", 1)
			perPage := queryInt(c, "per_page", 20)
			items, total, err := userRepo.List(c.Request.Context(), page, perPage)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list users")
				return
			}
			c.JSON(http.StatusOK, gin.H{"users": items, "total": total, "page": page, "per_page": perPage})
		})

		admin.GET("/usuarios/:id", func(c *gin.Context) {
			id, ok := userID(c)
			if !ok {
				return
			}
			u, err := userRepo.FindByID(c.Request.Context(), id)
			if err != nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Usuário não encontrado.")
				return
			}
			c.JSON(http.StatusOK, AdminUserListItem{ID: u.ID, Login: u.Login, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt})
		})

		admin.PATCH("/usuarios/:id", func(c *gin.Context) {
			id, ok := userID(c)
			if !ok {
				return
			}
			var req struct {
				Email    *string `json:"email" binding:"omitempty,email"`
				Password *string `json:"password" binding:"omitempty,min=6"`
				Role     *string `json:"role" binding:"omitempty,oneof=ADMIN USER"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user payload")
				return
			}

			ctx := c.Request.Context()
			exists, err := userRepo.ExistsByID(ctx, id)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load user")
				return
			}
			if !exists {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Usuário não encontrado.")
				return
			}

			input := UserUpdateInput{Email: req.Email, Role: req.Role}
			if req.Password != nil {
				hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to hash password")
					return
				}
				hashStr := string(hash)
				input.PasswordHash = &hashStr
			}
			if err := userRepo.Update(ctx, id, input); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			c.Status(http.StatusNoContent)
		})

		admin.DELETE("/usuarios/:id", func(c *gin.Context) {
			id, ok := userID(c)
			if !ok {
				return
			}
			ctx := c.Request.Context()
			exists, err := userRepo.ExistsByID(ctx, id)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load user")
				return
			}
			if !exists {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "Usuário não encontrado.")
				return
			}
			if err := userRepo.DeleteByID(ctx, id); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to delete user")
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	return r
}

// bindLivroPayload accepts either plain JSON or a multipart form carrying
// a "livro" JSON field plus an optional "imagem" file part.
func bindLivroPayload(c *gin.Context, dto any) (*multipart.FileHeader, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		raw := c.PostForm("livro")
		if raw == "" {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "missing livro form field")
			return nil, false
		}
		if err := json.Unmarshal([]byte(raw), dto); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid livro json")
			return nil, false
		}
		if err := binding.Validator.ValidateStruct(dto); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid livro payload")
			return nil, false
		}
		cover, err := c.FormFile("imagem")
		if err != nil {
			// The cover part is optional.
			cover = nil
		}
		return cover, true
	}

	if err := c.ShouldBindJSON(dto); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid livro payload")
		return nil, false
	}
	return nil, true
}

func livroID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid livro id")
		return uuid.Nil, false
	}
	return id, true
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, defaultVal int) int {
	if v := c.Query(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}
