package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/nao1215/edgeauth/pkg/autherr"
)

const component = "gateway"

// Resolver はサービスの論理名を転送先のベースURLに解決する。
type Resolver interface {
	Resolve(ctx context.Context, service string) (*url.URL, error)
}

// endpoints はひとつのサービスの転送先一覧。
type endpoints struct {
	urls []*url.URL
	next atomic.Uint64
}

// StaticResolver は設定済みの転送先をラウンドロビンで返すResolver。
type StaticResolver struct {
	services map[string]*endpoints
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver はサービス名と転送先URL一覧からResolverを生成する。
func NewStaticResolver(services map[string][]string) (*StaticResolver, error) {
	r := &StaticResolver{services: make(map[string]*endpoints, len(services))}
	for name, raws := range services {
		eps := &endpoints{}
		for _, raw := range raws {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("転送先URLが不正です: service=%s, url=%s: %w", name, raw, err)
			}
			if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("転送先URLはhttpまたはhttpsの絶対URLである必要があります: service=%s, url=%s", name, raw)
			}
			eps.urls = append(eps.urls, u)
		}
		r.services[serviceKey(name)] = eps
	}
	return r, nil
}

// Resolve は次の転送先を返す。サービスが未登録の場合は autherr.ErrUpstreamUnavailable を返す。
func (r *StaticResolver) Resolve(_ context.Context, service string) (*url.URL, error) {
	eps, ok := r.services[serviceKey(service)]
	if !ok || len(eps.urls) == 0 {
		return nil, autherr.Wrap(component, autherr.ErrUpstreamUnavailable, "service", service, "reason", "no endpoints")
	}
	i := eps.next.Add(1) - 1
	u := *eps.urls[i%uint64(len(eps.urls))]
	return &u, nil
}
