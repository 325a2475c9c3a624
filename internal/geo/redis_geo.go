package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands. It is fed from
// nearby-fulfiller pushes and survives client restarts, so a ranking
// can still be produced while the authority is unreachable.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(c models.CandidateFulfiller) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: c.Loc.Lon, Latitude: c.Loc.Lat, Name: c.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(c.ID), map[string]interface{}{"name": c.Name, "rating": fmt.Sprintf("%f", c.Rating)}).Err()
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []models.CandidateFulfiller {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 10000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.CandidateFulfiller, 0, len(res))
	for _, g := range res {
		c := models.CandidateFulfiller{ID: g.Name}
		c.Loc.Lat = g.Latitude
		c.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			c.Name = m["name"]
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					c.Rating = f
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func metaKey(id string) string { return "candidate:meta:" + id }
