// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、键前缀、
健康检查与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，为模型目录等共享数据提供统一的缓存读写
接口。Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
开启 TLSEnabled 时使用 tlsutil 的加固 TLS 配置。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端，提供 Get/Set/Delete/Ping
    等基础操作，以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：缓存配置，包含地址、密码、键前缀、连接池大小、默认 TTL、
    TLS 开关与健康检查间隔等参数。

# 主要能力

  - 键值读写：ttl 为 0 使用默认值，小于 0 永不过期。
  - 健康检查：后台定时 Ping，Close 时退出。
  - 错误语义：提供 ErrCacheMiss、ErrClosed 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
