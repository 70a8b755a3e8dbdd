package sql

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ecmwf/reqbroker/request"
)

type requestModel struct {
	bun.BaseModel `bun:"table:requests"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	Timestamp    time.Time `bun:"timestamp,nullzero,notnull,default:current_timestamp"`
	LastModified time.Time `bun:"last_modified,nullzero,notnull,default:current_timestamp"`

	UserID    uuid.UUID `bun:"user_id,type:uuid"`
	Username  string    `bun:"username"`
	UserRealm string    `bun:"user_realm"`
	UserRoles []string  `bun:"user_roles,type:jsonb"`

	Verb   request.Verb   `bun:"verb,notnull,default:0"`
	Status request.Status `bun:"status,notnull,default:0"`

	Collection string `bun:"collection,notnull"`

	UserRequest string `bun:"user_request,type:text"`
	URL         string `bun:"url"`

	MD5           string `bun:"md5"`
	ContentLength int64  `bun:"content_length"`
	ContentType   string `bun:"content_type"`

	UserMessage string `bun:"user_message,type:text"`
}

func fromRequest(r *request.Request) *requestModel {
	m := &requestModel{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		LastModified:  r.LastModified,
		Verb:          r.Verb,
		Status:        r.Status,
		Collection:    r.Collection,
		UserRequest:   r.UserRequest,
		URL:           r.URL,
		MD5:           r.MD5,
		ContentLength: r.ContentLength,
		ContentType:   r.ContentType,
		UserMessage:   r.UserMessage,
	}
	if r.User != nil {
		m.UserID = r.User.ID
		m.Username = r.User.Username
		m.UserRealm = r.User.Realm
		m.UserRoles = r.User.Roles
	}
	return m
}

func (m *requestModel) toRequest() *request.Request {
	return &request.Request{
		ID:           m.ID,
		Timestamp:    m.Timestamp,
		LastModified: m.LastModified,
		User: &request.User{
			ID:       m.UserID,
			Username: m.Username,
			Realm:    m.UserRealm,
			Roles:    m.UserRoles,
		},
		Verb:          m.Verb,
		Status:        m.Status,
		Collection:    m.Collection,
		UserRequest:   m.UserRequest,
		URL:           m.URL,
		MD5:           m.MD5,
		ContentLength: m.ContentLength,
		ContentType:   m.ContentType,
		UserMessage:   m.UserMessage,
	}
}
