// Package seed loads demo users and listings from a YAML fixture.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"estately/api/internal/authpw"
	"estately/api/internal/store"
	"gopkg.in/yaml.v3"
)

type Fixture struct {
	Users      []User     `yaml:"users"`
	Properties []Property `yaml:"properties"`
}

type User struct {
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
}

type Property struct {
	Seller       string  `yaml:"seller"`
	Title        string  `yaml:"title"`
	Description  string  `yaml:"description"`
	Address      string  `yaml:"address"`
	City         string  `yaml:"city"`
	PropertyType string  `yaml:"property_type"`
	Price        float64 `yaml:"price"`
	Bedrooms     int     `yaml:"bedrooms"`
	Bathrooms    int     `yaml:"bathrooms"`
	AreaSqft     int     `yaml:"area_sqft"`
	ImageURL     string  `yaml:"image_url"`
}

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	ListProperties(ctx context.Context, filter store.PropertyFilter) ([]store.Property, int, error)
	CreateProperty(ctx context.Context, item store.Property) (store.Property, error)
}

type Result struct {
	UsersCreated      int
	UsersSkipped      int
	PropertiesCreated int
	PropertiesSkipped int
}

func Load(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return fixture, nil
}

// Apply inserts the fixture. Users are matched by email and listings by
// seller and title, so running it twice changes nothing.
func Apply(ctx context.Context, st Store, fixture Fixture, bcryptCost int) (Result, error) {
	var result Result
	sellers := make(map[string]int64)

	for _, u := range fixture.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		existing, err := st.GetUserByEmail(ctx, email)
		if err == nil {
			sellers[email] = existing.ID
			result.UsersSkipped++
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("lookup %s: %w", email, err)
		}

		hash, err := authpw.HashPassword(u.Password, bcryptCost)
		if err != nil {
			return result, err
		}
		created, err := st.CreateUser(ctx, store.User{
			Email:              email,
			DisplayName:        strings.TrimSpace(u.DisplayName),
			PasswordHash:       hash,
			Role:               u.Role,
			EmailNotifications: true,
		})
		if err != nil {
			return result, fmt.Errorf("create %s: %w", email, err)
		}
		sellers[email] = created.ID
		result.UsersCreated++
	}

	for _, p := range fixture.Properties {
		sellerEmail := strings.ToLower(strings.TrimSpace(p.Seller))
		sellerID, ok := sellers[sellerEmail]
		if !ok {
			return result, fmt.Errorf("property %q: unknown seller %s", p.Title, p.Seller)
		}
		listed, _, err := st.ListProperties(ctx, store.PropertyFilter{SellerID: sellerID, Limit: 500})
		if err != nil {
			return result, fmt.Errorf("list properties for %s: %w", sellerEmail, err)
		}
		if hasTitle(listed, p.Title) {
			result.PropertiesSkipped++
			continue
		}
		if _, err := st.CreateProperty(ctx, store.Property{
			SellerID:     sellerID,
			Title:        p.Title,
			Description:  p.Description,
			Address:      p.Address,
			City:         p.City,
			PropertyType: p.PropertyType,
			Price:        p.Price,
			Bedrooms:     p.Bedrooms,
			Bathrooms:    p.Bathrooms,
			AreaSqft:     p.AreaSqft,
			ImageURL:     p.ImageURL,
			Status:       store.PropertyAvailable,
		}); err != nil {
			return result, fmt.Errorf("create property %q: %w", p.Title, err)
		}
		result.PropertiesCreated++
	}
	return result, nil
}

func hasTitle(items []store.Property, title string) bool {
	for _, item := range items {
		if strings.EqualFold(item.Title, title) {
			return true
		}
	}
	return false
}
