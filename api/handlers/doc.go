// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 claudegate HTTP API 的请求处理器实现。

# 概述

handlers 包实现聊天补全、模型列表、WebSocket 流式聊天与健康检查端点。
所有 Handler 均遵循标准 net/http 接口，业务逻辑全部委托给 llm.Pipeline
与 catalog.Catalog，这里只负责协议转换与错误到状态码的映射。

# 核心类型

  - ChatHandler      : POST /api/v1/chat/completions，JSON 或 SSE
  - WebSocketHandler : GET /api/v1/chat/ws，一条连接上多次请求
  - ModelsHandler    : GET /api/v1/models，带来源标记
  - HealthHandler    : /health、/healthz、/ready、/version
  - Response         : 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   : 捕获状态码，转发 Flush 与 Hijack

# 错误处理

只有 *types.SafeError 的文案会返回给客户端。StatusForError 按错误类别
映射状态码；上游拒绝 API key 返回 502，因为那是网关配置问题而不是调用方
的凭证问题。SSE 在响应头发出后的失败以 "event: error" 帧送出。
*/
package handlers
