package app

import (
	"context"
	"log"
	"strings"

	"estately/api/internal/search"
	"estately/api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var propertyStatuses = map[string]struct{}{
	store.PropertyAvailable:  {},
	store.PropertyUnderOffer: {},
	store.PropertySold:       {},
}

type PropertyQuery struct {
	Text     string
	City     string
	Status   string
	Type     string
	MinPrice float64
	MaxPrice float64
	Limit    int
	Offset   int
}

// PropertyInput is used for create and for partial updates; nil fields are
// left unchanged on update.
type PropertyInput struct {
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Address      *string  `json:"address"`
	City         *string  `json:"city"`
	PropertyType *string  `json:"property_type"`
	Price        *float64 `json:"price"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *int     `json:"bathrooms"`
	AreaSqft     *int     `json:"area_sqft"`
	ImageURL     *string  `json:"image_url"`
	Status       *string  `json:"property_status"`
}

func (in PropertyInput) apply(p *store.Property) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&p.Title, in.Title)
	setString(&p.Description, in.Description)
	setString(&p.Address, in.Address)
	setString(&p.City, in.City)
	setString(&p.PropertyType, in.PropertyType)
	setString(&p.ImageURL, in.ImageURL)
	setString(&p.Status, in.Status)
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Bedrooms != nil {
		p.Bedrooms = *in.Bedrooms
	}
	if in.Bathrooms != nil {
		p.Bathrooms = *in.Bathrooms
	}
	if in.AreaSqft != nil {
		p.AreaSqft = *in.AreaSqft
	}
}

func validateProperty(p store.Property) error {
	switch {
	case p.Title == "":
		return validationField("title", "title is required")
	case len(p.Title) > 200:
		return validationField("title", "title must be at most 200 characters")
	case p.Price <= 0:
		return validationField("price", "price must be a positive number")
	case p.Bedrooms < 0:
		return validationField("bedrooms", "bedrooms cannot be negative")
	case p.Bathrooms < 0:
		return validationField("bathrooms", "bathrooms cannot be negative")
	case p.AreaSqft < 0:
		return validationField("area_sqft", "area_sqft cannot be negative")
	}
	if _, ok := propertyStatuses[p.Status]; !ok {
		return validationField("property_status", "property_status must be one of Available, Under Offer, Sold")
	}
	return nil
}

// ListProperties browses listings. A text query goes through the search
// service; plain filters are answered straight from Postgres.
// pageBounds clamps a requested page to [1, maxPageSize] with a non-negative offset.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListProperties(ctx context.Context, q PropertyQuery) (map[string]any, error) {
	q.Limit, q.Offset = pageBounds(q.Limit, q.Offset)

	if strings.TrimSpace(q.Text) != "" && s.search != nil {
		resp := s.search.Search(ctx, search.Query{
			Text:     strings.TrimSpace(q.Text),
			City:     q.City,
			Status:   q.Status,
			Type:     q.Type,
			MinPrice: q.MinPrice,
			MaxPrice: q.MaxPrice,
			Limit:    q.Limit,
			Offset:   q.Offset,
		})
		return map[string]any{
			"results": resp.Results,
			"total":   resp.Total,
			"query":   resp.Query,
			"engine":  resp.Engine,
		}, nil
	}

	items, total, err := s.store.ListProperties(ctx, store.PropertyFilter{
		City:     q.City,
		Status:   q.Status,
		Type:     q.Type,
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"properties": propertyList(items),
		"total":      total,
		"limit":      q.Limit,
		"offset":     q.Offset,
	}, nil
}

func (s *Service) GetProperty(ctx context.Context, propertyID int64) (map[string]any, error) {
	detail, err := s.store.GetPropertyDetail(ctx, propertyID)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	payload := propertyPayload(detail.Property)
	payload["seller_name"] = detail.SellerName
	payload["average_rating"] = detail.AverageRating
	payload["review_count"] = detail.ReviewCount
	return payload, nil
}

// MyProperties pages through the caller's own listings. total counts every
// listing so clients can tell when more pages remain.
func (s *Service) MyProperties(ctx context.Context, session Session, limit, offset int) (map[string]any, error) {
	limit, offset = pageBounds(limit, offset)
	items, total, err := s.store.ListProperties(ctx, store.PropertyFilter{SellerID: session.UserID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"properties": propertyList(items),
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	}, nil
}

func (s *Service) CreateProperty(ctx context.Context, session Session, input PropertyInput) (map[string]any, error) {
	property := store.Property{SellerID: session.UserID, Status: store.PropertyAvailable}
	input.apply(&property)
	if err := validateProperty(property); err != nil {
		return nil, err
	}

	created, err := s.store.CreateProperty(ctx, property)
	if err != nil {
		return nil, err
	}
	log.Printf("property %d listed by user %d", created.ID, session.UserID)
	s.indexProperty(created)
	return propertyPayload(created), nil
}

func (s *Service) UpdateProperty(ctx context.Context, session Session, propertyID int64, input PropertyInput) (map[string]any, error) {
	g, err := s.authorize(ctx, session, Resource{Kind: ResourceProperty, ID: propertyID}, CapabilityOwn)
	if err != nil {
		return nil, err
	}
	property := g.Property
	input.apply(&property)
	if err := validateProperty(property); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateProperty(ctx, property)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	s.indexProperty(updated)
	return propertyPayload(updated), nil
}

func (s *Service) DeleteProperty(ctx context.Context, session Session, propertyID int64) error {
	if _, err := s.authorize(ctx, session, Resource{Kind: ResourceProperty, ID: propertyID}, CapabilityOwn); err != nil {
		return err
	}
	if err := s.store.DeleteProperty(ctx, propertyID); err != nil {
		return missing(err, "Property not found")
	}
	log.Printf("property %d deleted by user %d", propertyID, session.UserID)
	s.unindexProperty(propertyID)
	return nil
}
