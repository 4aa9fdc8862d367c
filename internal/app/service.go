package app

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"estately/api/internal/auth"
	"estately/api/internal/authpw"
	"estately/api/internal/config"
	"estately/api/internal/email"
	"estately/api/internal/rbac"
	"estately/api/internal/search"
	"estately/api/internal/store"
	"estately/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) isAdmin() bool {
	return rbac.Normalize(s.Role) == rbac.RoleAdmin
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	UpdateProfile(context.Context, store.User) (store.User, error)
	UpdateUserPassword(context.Context, int64, string) error

	SaveRefreshSession(context.Context, string, int64, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	PurgeExpiredTokens(context.Context) (int64, error)

	CreateProperty(context.Context, store.Property) (store.Property, error)
	GetProperty(context.Context, int64) (store.Property, error)
	GetPropertyDetail(context.Context, int64) (store.PropertyDetail, error)
	ListProperties(context.Context, store.PropertyFilter) ([]store.Property, int, error)
	UpdateProperty(context.Context, store.Property) (store.Property, error)
	DeleteProperty(context.Context, int64) error

	CreateOfferWithNotification(context.Context, store.Offer, store.Notification) (store.Offer, error)
	GetOffer(context.Context, int64) (store.Offer, error)
	ApplyOfferTransition(context.Context, store.OfferTransition) (store.Offer, error)
	ListOffersForSeller(context.Context, int64) ([]store.OfferView, error)
	ListOffersForBuyer(context.Context, int64) ([]store.OfferView, error)
	ListOffersForProperty(context.Context, int64) ([]store.OfferView, error)

	CreateNotification(context.Context, store.Notification) (store.Notification, error)
	ListNotifications(context.Context, int64, bool, int) ([]store.Notification, error)
	CountUnreadNotifications(context.Context, int64) (int, error)
	MarkNotificationRead(context.Context, int64, int64) error
	MarkAllNotificationsRead(context.Context, int64) (int64, error)

	AddFavorite(context.Context, int64, int64) error
	RemoveFavorite(context.Context, int64, int64) error
	ListFavorites(context.Context, int64) ([]store.Favorite, error)

	CreateVisitWithNotification(context.Context, store.Visit, store.Notification) (store.Visit, error)
	GetVisit(context.Context, int64) (store.Visit, error)
	ListVisitsForUser(context.Context, int64) ([]store.Visit, error)
	UpdateVisitStatus(context.Context, int64, string, string, store.Notification) (store.Visit, error)
	CompletePastVisits(context.Context, time.Time) (int64, error)

	CreateReview(context.Context, store.Review) (store.Review, error)
	ListReviews(context.Context, int64) ([]store.Review, error)

	GetOrCreateConversation(context.Context, int64, int64, int64) (store.Conversation, error)
	GetConversation(context.Context, int64) (store.Conversation, error)
	ListConversations(context.Context, int64) ([]store.Conversation, error)
	ListMessages(context.Context, int64, int64) ([]store.Message, error)
	CreateMessageWithNotification(context.Context, store.Message, store.Notification) (store.Message, error)

	SellerStats(context.Context, int64) (store.SellerStats, error)
	BuyerStats(context.Context, int64) (store.BuyerStats, error)
}

// sessionStore holds refresh sessions; Redis when configured, else Postgres.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, int64, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type idempotencyGuard interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProperty(record search.PropertyRecord)
	DeleteProperty(id int64)
	ReindexAllFromPG(ctx context.Context) (int, error)
}

type mailer interface {
	IsConfigured() bool
	SendNotification(n email.Notification) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    sessionStore
	passwords   *authpw.Service
	search      searchService
	mail        mailer
	idempotency idempotencyGuard
	now         func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		passwords: authpw.NewService(dataStore),
		now:       time.Now,
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

// NewWithSessionStore keeps refresh sessions outside Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service) *Service {
	svc := New(cfg, dataStore, searchSvc)
	if sessions != nil {
		svc.sessions = sessions
	}
	return svc
}

func (s *Service) WithMailer(m *email.Service) *Service {
	if m != nil {
		s.mail = m
	}
	return s
}

func (s *Service) WithIdempotency(guard idempotencyGuard) *Service {
	s.idempotency = guard
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (map[string]any, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Printf("user %d signed up as %s", user.ID, user.Role)
	return map[string]any{
		"user_id":      user.ID,
		"display_name": user.DisplayName,
		"role":         user.Role,
	}, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	return s.passwords.ChangePassword(ctx, session.UserID, current, next)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  strconv.FormatInt(user.ID, 10),
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := strconv.ParseInt(claims.Sub, 10, 64)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ReindexSearch rebuilds the listing index from Postgres.
func (s *Service) ReindexSearch(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	count, err := s.search.ReindexAllFromPG(ctx)
	if err != nil {
		return err
	}
	log.Printf("search: reindexed %d properties", count)
	return nil
}

func (s *Service) CompletePastVisits(ctx context.Context) error {
	completed, err := s.store.CompletePastVisits(ctx, s.now())
	if err != nil {
		return err
	}
	if completed > 0 {
		log.Printf("visits: marked %d past visits completed", completed)
	}
	return nil
}

func (s *Service) PurgeExpiredTokens(ctx context.Context) error {
	purged, err := s.store.PurgeExpiredTokens(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Printf("sessions: purged %d expired tokens", purged)
	}
	return nil
}

func (s *Service) indexProperty(p store.Property) {
	if s.search == nil {
		return
	}
	s.search.IndexProperty(propertyRecord(p))
}

func (s *Service) unindexProperty(id int64) {
	if s.search == nil {
		return
	}
	s.search.DeleteProperty(id)
}

// emailRecipient sends a notification email after the database work has
// committed. Delivery problems are logged and never reach the caller.
func (s *Service) emailRecipient(recipientID int64, subject, heading, message, propertyTitle string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		user, err := s.store.GetUserByID(ctx, recipientID)
		if err != nil {
			log.Printf("email: load recipient %d: %v", recipientID, err)
			return
		}
		if !user.EmailNotifications {
			return
		}
		err = s.mail.SendNotification(email.Notification{
			To:            user.Email,
			RecipientName: user.DisplayName,
			Subject:       subject,
			Heading:       heading,
			Message:       message,
			PropertyTitle: propertyTitle,
		})
		if err != nil && !errors.Is(err, email.ErrNotConfigured) {
			log.Printf("email: send to user %d: %v", recipientID, err)
		}
	}()
}

func propertyRecord(p store.Property) search.PropertyRecord {
	return search.PropertyRecord{
		ID:           p.ID,
		SellerID:     p.SellerID,
		Title:        p.Title,
		Description:  p.Description,
		Address:      p.Address,
		City:         p.City,
		PropertyType: p.PropertyType,
		Status:       p.Status,
		Price:        p.Price,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		ImageURL:     p.ImageURL,
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}
