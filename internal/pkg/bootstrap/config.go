package bootstrap

import (
	"context"

	"sabzar/internal/pkg/config"
	"sabzar/internal/pkg/logger"
	"sabzar/internal/pkg/nacos"
)

// LoadConfig 加载本地配置，启用 Nacos 时再用配置中心的内容覆盖，并监听后续变更。
// 返回的 Nacos 客户端在未启用时为 nil。
func LoadConfig(path string) (*config.Config, *nacos.Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	config.SetCurrentConfig(cfg)
	if !cfg.Infra.Nacos.Enabled {
		return cfg, nil, nil
	}

	nc := cfg.Infra.Nacos
	client, err := nacos.NewClient(nc.ServerAddrs, nc.Namespace, nc.Group)
	if err != nil {
		return nil, nil, err
	}
	content, err := client.GetConfig(nc.DataID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	if err := cfg.Merge([]byte(content)); err != nil {
		client.Close()
		return nil, nil, err
	}
	config.SetCurrentConfig(cfg)

	if err := client.ListenConfig(nc.DataID, ApplyRemoteConfig); err != nil {
		logger.Ctx(context.Background()).Warn().Err(err).Msg("failed to listen for nacos config changes")
	}
	return cfg, client, nil
}

// ApplyRemoteConfig 把配置中心推送的内容合并到当前配置的副本上再发布。
// 校验失败时保留旧配置。只有运行时读取 GetCurrentConfig 的参数会生效。
func ApplyRemoteConfig(content string) {
	next := *config.GetCurrentConfig()
	if err := next.Merge([]byte(content)); err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("rejected remote config update")
		return
	}
	config.SetCurrentConfig(&next)
}
