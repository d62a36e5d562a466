// Package proofs 实现信号承诺所需的哈希绑定原语：信号规范化、随机秘密值的生成与销毁，
// 以及承诺阶段（Committed → Revealed → Verified）的单向推进。
//
// 绑定哈希的计算方式为 sha256(JCS(signal) || hex(secret))，其中 JCS 指 RFC 8785
// 定义的 JSON 规范化格式，保证不同实现对同一信号与秘密值得到逐字节一致的结果。
package proofs
