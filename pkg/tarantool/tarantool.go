package tarantool

import (
	"fmt"
	"github.com/tarantool/go-tarantool"
)

type Config struct {
	Host     string `yaml:"TARANTOOL_HOST" env:"TARANTOOL_HOST" env-default:"localhost"`
	Port     string `yaml:"TARANTOOL_PORT" env:"TARANTOOL_PORT" env-default:"3301"`
	Username string `yaml:"TARANTOOL_USER" env:"TARANTOOL_USER" env-default:"admin"`
	Password string `yaml:"TARANTOOL_PASSWORD" env:"TARANTOOL_PASSWORD" env-default:"secret"`
}

const schema = `
box.schema.space.create('entities', {if_not_exists = true})
box.space.entities:format({
    {name = 'address', type = 'string'},
    {name = 'payload', type = 'string'},
    {name = 'version', type = 'unsigned'},
})
box.space.entities:create_index('primary', {parts = {'address'}, if_not_exists = true})
`

// New connects and makes sure the entities space exists.
func New(config Config) (*tarantool.Connection, error) {
	conn, err := tarantool.Connect(config.Host+":"+config.Port, tarantool.Opts{
		User: config.Username,
		Pass: config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("tarantool: connect: %w", err)
	}
	if _, err = conn.Eval(schema, []interface{}{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tarantool: bootstrap schema: %w", err)
	}
	return conn, nil
}
