package handlers

import (
	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/store/redisstore"
)

type Handler struct {
	Store *chat.Store
	Cfg   config.Config
	Redis *redisstore.Store
}

func NewHandler(store *chat.Store, cfg config.Config, r *redisstore.Store) *Handler {
	return &Handler{Store: store, Cfg: cfg, Redis: r}
}
