package store

import "time"

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

const (
	PropertyAvailable  = "Available"
	PropertyUnderOffer = "Under Offer"
	PropertySold       = "Sold"
)

const (
	OfferPending   = "Pending"
	OfferAccepted  = "Accepted"
	OfferRejected  = "Rejected"
	OfferCountered = "Countered"
)

const (
	VisitRequested = "Requested"
	VisitConfirmed = "Confirmed"
	VisitCancelled = "Cancelled"
	VisitCompleted = "Completed"
)

const (
	NotificationOfferReceived = "offer_received"
	NotificationOfferUpdated  = "offer_updated"
	NotificationVisitRequest  = "visit_requested"
	NotificationVisitUpdated  = "visit_updated"
	NotificationNewMessage    = "new_message"
	NotificationNewReview     = "new_review"
)

type User struct {
	ID                 int64
	Email              string
	DisplayName        string
	PasswordHash       string
	Role               string
	Phone              string
	Bio                string
	EmailNotifications bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Property struct {
	ID           int64
	SellerID     int64
	Title        string
	Description  string
	Address      string
	City         string
	PropertyType string
	Price        float64
	Bedrooms     int
	Bathrooms    int
	AreaSqft     int
	ImageURL     string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PropertyDetail is a property with its review aggregate and seller name.
type PropertyDetail struct {
	Property
	SellerName    string
	AverageRating float64
	ReviewCount   int
}

type PropertyFilter struct {
	City     string
	Status   string
	Type     string
	MinPrice float64
	MaxPrice float64
	SellerID int64
	Limit    int
	Offset   int
}

type Offer struct {
	ID         int64
	PropertyID int64
	BuyerID    int64
	SellerID   int64
	Amount     float64
	Status     string
	Message    string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OfferView is an offer joined with its buyer and property for listings.
type OfferView struct {
	Offer
	BuyerName      string
	BuyerEmail     string
	PropertyTitle  string
	PropertyImage  string
	PropertyStatus string
}

// OfferTransition is a seller decision applied atomically by ApplyOfferTransition.
type OfferTransition struct {
	OfferID         int64
	ExpectedVersion int
	Status          string
	Amount          float64
	Notification    Notification
}

type Notification struct {
	ID          int64
	RecipientID int64
	SenderID    *int64
	PropertyID  *int64
	Type        string
	Message     string
	ReadAt      *time.Time
	CreatedAt   time.Time
}

type Favorite struct {
	UserID     int64
	PropertyID int64
	CreatedAt  time.Time
	Property   Property
}

type Visit struct {
	ID            int64
	PropertyID    int64
	BuyerID       int64
	SellerID      int64
	ScheduledAt   time.Time
	Status        string
	Note          string
	PropertyTitle string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Review struct {
	ID           int64
	PropertyID   int64
	ReviewerID   int64
	ReviewerName string
	Rating       int
	Comment      string
	CreatedAt    time.Time
}

type Conversation struct {
	ID            int64
	PropertyID    int64
	BuyerID       int64
	SellerID      int64
	PropertyTitle string
	OtherName     string
	UnreadCount   int
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Body           string
	ReadAt         *time.Time
	CreatedAt      time.Time
}

type SellerStats struct {
	ListingsByStatus     map[string]int
	OffersByStatus       map[string]int
	PendingOffers        int
	AverageAcceptedOffer float64
	UpcomingVisits       int
	AverageRating        float64
	ReviewCount          int
}

type BuyerStats struct {
	OffersByStatus      map[string]int
	Favorites           int
	UpcomingVisits      int
	UnreadNotifications int
}
