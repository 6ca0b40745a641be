package redis

import (
	"strings"

	rd "github.com/redis/go-redis/v9"
)

type Config struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func NewBaseDao(config Config) *baseDao {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    config.Addrs,
		Password: config.Password,
		PoolSize: config.PoolSize,
	})
	return &baseDao{
		redisClient: client,
		namespace:   config.Namespace,
	}
}

func NewBaseDaoFromClient(client rd.UniversalClient, namespace string) *baseDao {
	return &baseDao{
		redisClient: client,
		namespace:   namespace,
	}
}

func (d *baseDao) getNamespaceKey(parts ...string) string {
	return d.namespace + ":" + strings.Join(parts, ":")
}

func (d *baseDao) Client() rd.UniversalClient {
	return d.redisClient
}
