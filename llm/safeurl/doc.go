// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package safeurl 判定用户提供的图片 URL 是否可以被访问，防御 SSRF。

# 规则

  - 仅允许 https
  - 拒绝 localhost、*.localhost、*.internal、*.local 与云元数据主机名
  - 解析主机名，任一地址落在回环、私有、链路本地、唯一本地、CGNAT、
    未指定、组播或文档保留网段即拒绝；IPv4 映射 / 转换 / 兼容形式、
    NAT64（64:ff9b::/96 与本地 64:ff9b:1::/48）、6to4 均按内嵌 IPv4 判定
  - 解析失败或没有地址视为拒绝，且不可重试

# 客户端

Validator.NewClient 返回的 http.Client 对每一跳重定向重新校验，并在
建立连接时再次检查实际拨号的 IP，以关闭 DNS rebinding 窗口。
*/
package safeurl
