// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 catalog 提供 Claude 模型目录：从 GET /v1/models 拉取模型列表，
按刷新间隔缓存，失败时依次回退到旧快照和内置列表。

# 核心类型

  - Catalog：模型目录，本地快照加可选共享 Store，并发刷新经
    singleflight 合并为一次上游请求。
  - Store：共享快照接口；RedisStore 基于 internal/cache.Manager 实现。
  - Source：结果来源（cache、fresh、stale、fallback）。

RefreshInterval 为 0 时快照一经拉取永不过期。
*/
package catalog
