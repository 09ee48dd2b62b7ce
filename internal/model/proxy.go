package model

import (
	"fmt"
	"net/url"
	"time"
)

type Proxy struct {
	ID              string        `db:"id" json:"id"`
	UserID          string        `db:"user_id" json:"userId"`
	Host            string        `db:"host" json:"host"`
	Port            int           `db:"port" json:"port"`
	Username        *string       `db:"username" json:"username,omitempty"`
	Password        *string       `db:"password" json:"-"`
	Protocol        ProxyProtocol `db:"protocol" json:"protocol"`
	Status          ProxyStatus   `db:"status" json:"status"`
	LastChecked     *time.Time    `db:"last_checked" json:"lastChecked,omitempty"`
	ConnectionSpeed *int          `db:"connection_speed" json:"connectionSpeed,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// URL renders the egress URL the HTTP transport consumes:
// proto://[user:pass@]host:port
func (p *Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != nil && *p.Username != "" {
		if p.Password != nil {
			u.User = url.UserPassword(*p.Username, *p.Password)
		} else {
			u.User = url.User(*p.Username)
		}
	}
	return u
}

type CreateProxyParams struct {
	UserID   string
	Host     string
	Port     int
	Username *string
	Password *string
	Protocol ProxyProtocol
}

type UpdateProxyParams struct {
	Host     *string
	Port     *int
	Username *string
	Password *string
	Protocol *ProxyProtocol
	Status   *ProxyStatus
}
