// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理：非阻塞启动、
优雅关闭与异步错误传播。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与错误通道，提供
    Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、读写与空闲超时、请求头上限、关闭超时，
    以及可选的 TLS 证书。

# 说明

配置了证书时 Start 以 HTTPS 监听，TLS 参数取自 tlsutil。
流式接口的写超时需要覆盖整个生成过程，默认 10 分钟。
信号处理留给调用方，Wait 在 context 结束或服务失败时返回。
*/
package server
