package model

import "time"

// ProjectInfo はプロジェクトの言語別情報を表す。
type ProjectInfo struct {
	Lang        string
	Name        string
	Abstract    string
	Description string
}

// Project はサイト・思い出を束ねるプロジェクトを表す。
// IDはURLに現れる識別子（例: "parainen"）。
type Project struct {
	ID              string
	Published       bool
	DefaultLanguage string
	OwnerID         string
	Info            ProjectInfo
	Admins          []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Site はプロジェクト内の場所を表す。
type Site struct {
	ID        int64
	ProjectID string
	Name      string
	Latitude  float64
	Longitude float64
	Published bool
	OwnerID   string
	Creator   string
	CreatedAt time.Time
}

// Memory はサイトに投稿された思い出を表す。
type Memory struct {
	ID        int64
	SiteID    int64
	Title     string
	Story     string
	Published bool
	OwnerID   string
	Creator   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment は思い出に付けられたコメントを表す。
type Comment struct {
	ID        int64
	MemoryID  int64
	Body      string
	Published bool
	OwnerID   string
	Creator   string
	CreatedAt time.Time
}
