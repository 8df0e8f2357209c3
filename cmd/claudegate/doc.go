// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 claudegate 服务端程序入口。

# 概述

cmd/claudegate 基于 cobra 提供 serve、version、health、validate-url 子命令。
启动时先加载 .env（不覆盖已有环境变量），再按 默认值 → YAML → 环境变量
的顺序构建配置。

# 核心类型

  - Server     : 组装 pipeline、模型目录、Redis 与 HTTP / Metrics 双端口
  - Middleware : HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - Metrics 服务器：独立端口暴露 /metrics；端口为 0 时挂在主服务上
  - 优雅关闭：SIGINT/SIGTERM → 关闭 HTTP → 关闭 Metrics → Redis → 遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
