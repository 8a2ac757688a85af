package handlers

import "net/http"

type styleItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

func (a *App) ListStyles(w http.ResponseWriter, r *http.Request) {
	list := a.Styles.List()
	items := make([]styleItem, 0, len(list))
	for _, s := range list {
		items = append(items, styleItem{ID: s.ID, Name: s.Name, Tier: string(s.Tier)})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
