// Package foodgi is a static glycemic index table for common Chinese foods.
package foodgi

import (
	"sort"
	"strings"
)

const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

type Food struct {
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	GI       int      `json:"gi"`
	Category string   `json:"category"`
}

// Level buckets GI: low up to 55, high from 70.
func (f Food) Level() string {
	return Level(f.GI)
}

func Level(gi int) string {
	switch {
	case gi <= 55:
		return LevelLow
	case gi < 70:
		return LevelMedium
	default:
		return LevelHigh
	}
}

var table = []Food{
	{Name: "白米饭", Aliases: []string{"米饭", "大米饭"}, GI: 83, Category: "主食"},
	{Name: "糙米饭", Aliases: []string{"糙米"}, GI: 68, Category: "主食"},
	{Name: "馒头", Aliases: []string{"白馒头"}, GI: 88, Category: "主食"},
	{Name: "白面包", Aliases: []string{"吐司"}, GI: 75, Category: "主食"},
	{Name: "全麦面包", GI: 69, Category: "主食"},
	{Name: "面条", Aliases: []string{"挂面", "小麦面条"}, GI: 55, Category: "主食"},
	{Name: "荞麦面", GI: 59, Category: "主食"},
	{Name: "燕麦片", Aliases: []string{"燕麦"}, GI: 55, Category: "主食"},
	{Name: "小米粥", Aliases: []string{"小米"}, GI: 62, Category: "主食"},
	{Name: "白米粥", Aliases: []string{"大米粥", "稀饭"}, GI: 69, Category: "主食"},
	{Name: "玉米", Aliases: []string{"甜玉米"}, GI: 55, Category: "主食"},
	{Name: "红薯", Aliases: []string{"地瓜", "番薯"}, GI: 77, Category: "薯类"},
	{Name: "土豆", Aliases: []string{"马铃薯"}, GI: 62, Category: "薯类"},
	{Name: "山药", GI: 51, Category: "薯类"},
	{Name: "芋头", GI: 48, Category: "薯类"},
	{Name: "黄豆", Aliases: []string{"大豆"}, GI: 18, Category: "豆类"},
	{Name: "绿豆", GI: 27, Category: "豆类"},
	{Name: "红豆", Aliases: []string{"赤小豆"}, GI: 23, Category: "豆类"},
	{Name: "豆腐", GI: 32, Category: "豆类"},
	{Name: "苹果", GI: 36, Category: "水果"},
	{Name: "梨", Aliases: []string{"雪梨"}, GI: 36, Category: "水果"},
	{Name: "橙子", Aliases: []string{"橙"}, GI: 43, Category: "水果"},
	{Name: "香蕉", GI: 52, Category: "水果"},
	{Name: "葡萄", GI: 43, Category: "水果"},
	{Name: "西瓜", GI: 72, Category: "水果"},
	{Name: "菠萝", GI: 66, Category: "水果"},
	{Name: "猕猴桃", Aliases: []string{"奇异果"}, GI: 52, Category: "水果"},
	{Name: "樱桃", GI: 22, Category: "水果"},
	{Name: "柚子", GI: 25, Category: "水果"},
	{Name: "芒果", GI: 55, Category: "水果"},
	{Name: "荔枝", GI: 57, Category: "水果"},
	{Name: "牛奶", Aliases: []string{"全脂牛奶"}, GI: 27, Category: "乳制品"},
	{Name: "酸奶", Aliases: []string{"无糖酸奶"}, GI: 36, Category: "乳制品"},
	{Name: "胡萝卜", GI: 71, Category: "蔬菜"},
	{Name: "南瓜", GI: 75, Category: "蔬菜"},
	{Name: "西兰花", Aliases: []string{"花椰菜"}, GI: 15, Category: "蔬菜"},
	{Name: "黄瓜", GI: 15, Category: "蔬菜"},
	{Name: "番茄", Aliases: []string{"西红柿"}, GI: 15, Category: "蔬菜"},
	{Name: "花生", GI: 14, Category: "坚果"},
	{Name: "腰果", GI: 25, Category: "坚果"},
	{Name: "蔗糖", Aliases: []string{"白糖", "砂糖"}, GI: 65, Category: "糖类"},
	{Name: "葡萄糖", GI: 100, Category: "糖类"},
	{Name: "蜂蜜", GI: 73, Category: "糖类"},
	{Name: "可乐", Aliases: []string{"碳酸饮料"}, GI: 63, Category: "饮料"},
	{Name: "油条", GI: 75, Category: "小吃"},
	{Name: "饺子", Aliases: []string{"水饺"}, GI: 28, Category: "小吃"},
}

// Catalog answers name lookups against a food table.
type Catalog struct {
	foods  []Food
	byName map[string]int
}

// NewCatalog indexes foods by name and alias. A nil slice loads the built-in
// table.
func NewCatalog(foods []Food) *Catalog {
	if foods == nil {
		foods = table
	}
	c := &Catalog{foods: foods, byName: make(map[string]int, len(foods)*2)}
	for i, f := range foods {
		c.byName[f.Name] = i
		for _, alias := range f.Aliases {
			if _, taken := c.byName[alias]; !taken {
				c.byName[alias] = i
			}
		}
	}
	return c
}

// Get matches the name or an alias exactly.
func (c *Catalog) Get(name string) (Food, bool) {
	i, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return Food{}, false
	}
	return c.foods[i], true
}

// Search returns foods whose name or alias contains query. Exact matches
// come first, then ascending GI. An empty query lists the table.
func (c *Catalog) Search(query string, limit int) []Food {
	query = strings.TrimSpace(query)
	type hit struct {
		food  Food
		exact bool
	}
	var hits []hit
	for _, f := range c.foods {
		exact, ok := matches(f, query)
		if ok {
			hits = append(hits, hit{food: f, exact: exact})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].exact != hits[j].exact {
			return hits[i].exact
		}
		return hits[i].food.GI < hits[j].food.GI
	})

	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]Food, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, h.food)
	}
	return out
}

func matches(f Food, query string) (exact, ok bool) {
	if query == "" {
		return false, true
	}
	names := append([]string{f.Name}, f.Aliases...)
	for _, n := range names {
		if n == query {
			return true, true
		}
	}
	for _, n := range names {
		if strings.Contains(n, query) {
			return false, true
		}
	}
	return false, false
}
